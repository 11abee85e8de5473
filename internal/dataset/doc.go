// Package dataset defines labelled example sources and the feeder component
// that binds their batches to the input placeholder of a run.
package dataset
