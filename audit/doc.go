// Package audit implements the append-only login-attempt trail.
//
// # Components
//
//   - [Record] — one authentication attempt: who, when, outcome, source,
//     failure reason. Records are created for every attempt, including ones
//     blocked before password verification, and are never mutated.
//   - [Sink] — interface for record consumers (channel, JSON writer, zap,
//     Kafka, no-op).
//   - [Dispatcher] — buffered async relay with drop-if-full accounting.
//     Audit delivery failures are absorbed here; they must never abort the
//     authentication request that produced the record.
//
// # What this package must NOT do
//
//   - Decide which attempts to record — that belongs to the lockout guard.
//   - Import authguard or any sibling package.
package audit
