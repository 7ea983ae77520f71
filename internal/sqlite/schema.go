package sqlite

// dbFileName is the database file created under the data directory.
const dbFileName = "jetstream.db"

// Schema DDL. properties holds every property of the object as one JSON
// object: primitives in wire form, references as UUID strings and reference
// collections as arrays of UUID strings.
const (
	createObjects = `CREATE TABLE IF NOT EXISTS objects (
    uuid TEXT PRIMARY KEY,
    type_name TEXT NOT NULL,
    is_root INTEGER NOT NULL DEFAULT 0,
    properties TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	createIndexObjectsRoot = `CREATE INDEX IF NOT EXISTS idx_objects_root ON objects(is_root);`
)

var schemaStatements = []string{
	createObjects,
	createIndexObjectsRoot,
}
