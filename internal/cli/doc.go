// Package cli is responsible for parsing command-line arguments, validating
// user input, and handling process-level concerns like exit codes. It
// translates CLI flags into the application's run settings; override
// strings are parsed here so the rest of the program only sees typed
// mappings.
package cli
