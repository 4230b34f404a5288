// Package lifecycle drives an alert from receipt to a terminal status.
// It defines the Service (intake, reads, operator overrides, async
// dispatch), Engine (the automatic state machine), Store interface
// (persistence), and Broadcaster interface (real-time notification).
package lifecycle
