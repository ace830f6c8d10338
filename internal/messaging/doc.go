// Package messaging implements request/response over a port that only
// supports posting messages with an attachable reply channel.
//
// A Sender posts a Request and waits for two replies on the request's own
// MessageChannel: ACK once a Receiver has at least one handler for the
// event type, then DONE carrying one Outcome per handler. Missing ACK,
// missing DONE, an unknown status and an unusable port each fail with
// their own domain error.
//
// LocalPort connects goroutines in one process; package wsport carries
// the same frames over a WebSocket.
package messaging
