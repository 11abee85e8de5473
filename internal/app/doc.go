// Package app contains the experiment runner. It defines the App struct,
// its configuration and the run life cycle: applying the experiment
// definition, resolving option sets, wrapping the workflow in an optional
// tracking bracket and running it. It is decoupled from any specific
// entrypoint like a CLI.
package app
