// Package dedupe drops repeated client request ids within a time window.
//
// The HTTP API claims "<scope>/<request_id>" before sending a message or
// dispatching a broadcast. A second submission with the same id inside the
// TTL is rejected instead of starting another turn.
package dedupe
