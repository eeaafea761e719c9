// Package stream decodes structured test result streams into Events.
//
// Three encodings are understood: the binary subunit v2 packet format, the
// line-oriented subunit v1 text protocol and the event stream written by
// `go test -json`. NewDecoder detects which one it is reading from the first
// byte of input, so consumers only ever see the Decoder interface.
//
// An Encoder writes subunit v2, which is the format persisted by the raw
// output sinks and emitted by the generate command.
package stream
