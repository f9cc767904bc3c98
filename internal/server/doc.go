// Package server exposes the orchestration engine over HTTP.
//
// # Routes
//
//	GET    /health
//	GET    /api/models
//	GET    /api/sessions
//	POST   /api/sessions                      {"model"?}
//	GET    /api/sessions/{id}
//	DELETE /api/sessions/{id}
//	PUT    /api/sessions/{id}/model           {"model", "confirm"?}
//	PUT    /api/sessions/{id}/sync            {"enabled"}
//	POST   /api/sessions/{id}/messages        {"content", "request_id"?}
//	GET    /api/sessions/{id}/transcript      ?format=md|html
//	GET    /api/sync
//	PUT    /api/sync                          {"input"}
//	POST   /api/sync/broadcast                {"request_id"?}
//	GET    /api/events                        ?session=<id>
//	GET    /api/turns                         ?session=&model=&outcome=&since=&limit=
//	GET    /api/stats
//
// Sending a message returns 202 with the Awaiting snapshot. The reply arrives
// as a series of "session" events on /api/events. A send while a turn is in
// flight is rejected with 409 and nothing is queued.
//
// Switching the model of a session that has history discards it, so the
// request must carry "confirm": true or the X-Parley-Confirm header.
//
// A request_id on a send or broadcast is remembered for a few minutes. A
// repeat with the same id gets 409 instead of starting another turn.
package server
