package types

// Result is the outcome of one sync fragment. It marshals to {} on success
// and to {"error":{"message":...,"code":...,"slug":...}} on failure.
type Result struct {
	Error *Error `json:"error,omitempty"`
}

// ResultFromError builds a Result, translating err with AsError.
func ResultFromError(err error) Result {
	return Result{Error: AsError(err)}
}

// OK reports whether the fragment was applied.
func (r Result) OK() bool {
	return r.Error == nil
}
