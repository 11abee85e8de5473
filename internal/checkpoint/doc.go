// Package checkpoint persists learned variables.
//
// A checkpoint file starts with a short header (magic and format version)
// followed by a zstd stream holding the msgpack-encoded variable map. Files
// are written to a temporary sibling and renamed into place, so readers never
// observe a partially written checkpoint.
package checkpoint
