// Package runner adapts external test schedulers to op-testr.
//
// The main components are:
//   - Scheduler: lists the tests a scheduler knows and builds the command that
//     runs a selection of them, emitting a structured result stream on stdout
//   - StestrScheduler: drives stestr, which speaks subunit v2
//   - GoScheduler: drives `go test -json`, discovering tests from source
//   - Execute: runs a scheduler command and hands its stdout to a consumer
//     while the process is still running
package runner
