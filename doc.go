// Package authguard is an embeddable authentication and abuse-control
// engine. It bundles argon2id password hashing, signed access tokens
// with opaque rotating refresh tokens, a lockout state machine for
// failed logins, and a distributed rate limiter with abuse escalation.
//
// The [Engine] is the single entry point. Construct one through the
// [Builder]:
//
//	engine, err := authguard.New().
//		WithConfig(cfg).
//		WithRedis(redisClient).
//		WithCredentials(repo).
//		Build()
//
// Credential records live in the caller-supplied [lockout.Repository]
// (Postgres and in-memory implementations ship with the module), while
// rate-limit counters, abuse markers, and by default refresh tokens
// share the Redis client so multiple engine instances enforce one
// global policy.
package authguard
