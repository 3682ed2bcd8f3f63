// Package refresh persists opaque refresh tokens and implements the
// rotation protocol built on top of them.
//
// A refresh token is a random string minted by the token package. It
// carries no claims; it is meaningful only as a lookup key into a
// [Storage] backend. The [Store] layered on top enforces a per-owner
// cap with oldest-first eviction, rotates tokens atomically, and treats
// any reuse of an already-rotated token as a compromise signal that
// revokes the owner's entire token family.
//
// Two Storage implementations ship with the package: [PostgresStorage]
// (canonical, transactional) and [RedisStorage] (shared-cache backed,
// Lua-atomic consume). Both expose the same consume semantics, so the
// rotation races resolve to exactly one winner regardless of backend.
package refresh
