// Package config resolves the option sets of one run from a fixed cascade of
// override sources.
//
// Every run receives fresh option sets built from declared defaults. Overrides
// are applied per key in precedence order: code-level table, command line,
// experiment definition file, sweep. A key missing from a tier keeps the value
// of the tier below. Format-specific loaders for experiment definitions live
// in separate packages and implement Loader.
package config
