// Package password implements memory-hard password hashing and constant-time
// verification.
//
// # Output format
//
// Encoded blobs are base64url (no padding) over the raw concatenation
//
//	salt || finalHash
//
// where finalHash = SHAKE256(argon2id(password, salt) || password). Cost
// parameters are fixed at construction, so no parameters are embedded in the
// blob; [Hasher.NeedsRehash] reports whether a blob was produced by a hasher
// with a different output geometry.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (length,
// reuse history) and persistence belong to callers.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords — callers supply plaintext and receive blobs.
//   - Import any other authguard package.
//   - Log plaintext passwords.
package password
