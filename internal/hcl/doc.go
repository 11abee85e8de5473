// Package hcl loads experiment definitions written in HCL or JSON and parses
// the HCL object expressions used for command-line overrides.
//
// An HCL definition may write each top-level key either as an attribute
// holding an object or as a block:
//
//	export-options = { interval_batches = 2 }
//
//	workflow-options {
//	  evaluate_interval = 5
//	}
//
// JSON definitions use the same keys as top-level object properties.
package hcl
