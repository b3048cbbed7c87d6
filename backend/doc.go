// Package backend delivers composed messages through interchangeable
// transports. Every backend satisfies the same open/deliver/close
// contract: delivering on a closed backend opens a connection for the
// duration of the call, while a caller that opens the backend first
// keeps one connection alive across several deliveries. Besides the
// live SMTP transport there are backends that write messages to a
// file, hold them in memory for tests, print them to a stream, spool
// them into an embedded database, or drop them entirely.
package backend
