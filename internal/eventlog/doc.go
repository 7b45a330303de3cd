// Package eventlog records named diagnostic events emitted by the control
// core: routine lifecycle changes, subsystem mode transitions, backend
// health changes and unhandled faults.
//
// Producers only ever see the Sink interface. Record never blocks and never
// fails, so it is safe to call from the control loop. The Recorder queues
// events onto a buffered channel and fans them out on its own goroutine to
// any number of Handlers (structured log, SQLite history, MQTT, WebSocket).
// A failing handler is logged and skipped.
//
// When the queue is full new events are dropped and counted; the control
// loop must never wait on diagnostics.
package eventlog
