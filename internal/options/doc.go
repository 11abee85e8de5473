// Package options implements OptionSet, the ordered and typed name/value
// container used for component hyperparameters and for every block of
// workflow configuration.
//
// Values are held as cty.Value so that the same representation flows from
// HCL, JSON and TOML experiment definitions, from command-line override
// strings and from Go code defaults. Each option also carries a declared
// Kind which every override is converted to.
//
// An OptionSet may be overridden any number of times until it is first read.
// The first read seals it; further overrides fail with ErrSealed. Callers
// that need a fresh, writable copy of a template use Clone.
package options
