// Package component defines the capability set every learning unit
// implements to take part in an execution step, together with the batch
// types and the per-step feed and fetch dictionaries.
//
// A Component never owns the execution engine. It declares its computations
// on a session.Graph when it is constructed and afterwards only contributes
// named inputs and output requests to the dictionaries of a step. The
// executor package drives the staged calls; see executor.Coordinator.
package component
