// Package workflow drives an experiment run: it builds the computation
// graph for the selected component, owns the execution session for the
// duration of the run and steps through the requested number of batches.
//
// Each batch runs a Training step when training is enabled and an Encoding
// step when evaluation is enabled and the batch index is a multiple of the
// evaluation interval. Summaries are written after every step. Classifier
// retraining, checkpoint export and filter export happen on their own
// interval boundaries; export failures are logged and never stop the run.
//
// Cancellation is only observed between steps.
package workflow
