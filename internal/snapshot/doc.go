// Package snapshot exports a graph's elements to a blob sink and imports
// them back.
//
// A snapshot holds every element record (id, kind, endpoints, properties).
// Index entries are not stored: they are a function of the properties and
// are rebuilt on import.
//
// Sinks:
//   - memory: in-process map, for tests and dry runs
//   - fs:     files under a root directory
//   - s3:     an S3-compatible bucket (AWS S3 or MinIO)
//
// Codecs: JSON (sorted keys, stable across runs) and msgpack.
package snapshot
