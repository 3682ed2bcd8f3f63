// Package token issues and validates the two credential kinds used by the
// engine: short-lived signed access tokens and long-lived opaque refresh
// token strings.
//
// Access tokens are HS256 JWTs carrying identity claims; they are stateless
// and verified by signature, issuer, and expiry only. Refresh tokens are
// random strings with no embedded claims — they are meaningful only through a
// store lookup and are produced here so the entire token surface has one
// owner.
//
// # What this package must NOT do
//
//   - Persist anything. Refresh token storage lives in package refresh.
//   - Retry validation failures. Classification is returned to the caller.
package token
