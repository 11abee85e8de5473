/*
Package scope provides a structured representation of variable name scopes,
the unit used to select learned state for checkpoint restore and freezing.

A scope is a slash-separated sequence of segments, e.g. `encoder/conv1`. A
variable `encoder/conv1/weights` is under the scopes `encoder` and
`encoder/conv1` but not under `enc` or `decoder`. A List is parsed from the
comma-separated form accepted on the command line and in experiment
definitions; an empty List selects nothing.
*/
package scope
