// Package broadcast implements sync mode: one composer feeding many sessions.
//
// The Controller stores only session ids, never sessions. Broadcast resolves
// each id through a Directory at dispatch time, so a removed session simply
// stops resolving and is dropped from membership. The fan-out is best effort:
// members that are busy are skipped and keep their membership, and a fault in
// one member's turn has no effect on the others.
package broadcast
