// Package registry maps the names used on the command line and in
// experiment definitions to the compiled constructors of components,
// datasets and workflows.
//
// Modules register themselves at startup. Registering a name twice is a
// programming error and panics. After registration the registry is validated
// so that code-level override tables cannot silently drift from the options
// the constructors actually declare.
package registry
