// Package lockout implements the progressive account-lockout state machine
// that guards credential verification.
//
// # State model
//
// States are derived from the credential record, never stored explicitly:
//
//   - ACTIVE: Active=true and LockedUntil nil or in the past.
//   - TEMP_LOCKED: Active=true and LockedUntil in the future.
//   - PERM_LOCKED_DISABLED: Active=false with LockedUntil far in the future.
//
// Transitions are pure functions (next state from current state plus an
// event); persistence happens in a surrounding transaction supplied by the
// [Repository]. Only a genuine wrong-password attempt moves the failure
// counter — attempts blocked because the account is inactive, locked, or
// unverified, or because the identity is unknown, are audited but leave the
// counter untouched. A legitimate user knocking on an already-locked door
// must not extend the lock.
//
// # Concurrency
//
// Password verification is memory-hard and deliberately slow; the [Guard]
// runs it before entering [Repository.Mutate], so no lock or transaction is
// held during hashing. Repository implementations must serialize Mutate per
// credential, otherwise two concurrent failures can both read the same
// counter and silently lose an increment.
package lockout
