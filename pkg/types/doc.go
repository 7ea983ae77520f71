// Package types defines the error taxonomy, per-fragment results, and process
// configuration shared by every jetstream package.
//
// Every error that can reach a replica is an *Error with a numeric code, a
// slug, and a message. Callers match them with errors.Is against the
// sentinels declared here.
package types
