// Package trace turns a stream of test events into per-test results, a live
// console trace and an end of run summary.
//
// The Aggregator is single-consumer: events are processed strictly in arrival
// order and it never starts goroutines of its own. Each inprogress event opens
// a record for its test id; a terminal event closes the most recently opened
// record of that id, so a test executed several times in one stream yields one
// result per execution. Records still open when the stream ends are dangling:
// they are listed individually and fail the run.
package trace
