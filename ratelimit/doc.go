// Package ratelimit provides distributed admission control for sensitive
// write endpoints: a token-bucket [Limiter] keyed by (action, identifier) and
// an escalating [Detector] that converts repeated violations into temporary
// IP blocks.
//
// Both components share one [kv.Store], so multiple server instances enforce
// a single global budget per identifier. Both fail OPEN: when the store is
// unreachable the request is admitted and the failure is logged. Rate
// limiting is defense in depth, not a security boundary — an infrastructure
// outage must not become a self-inflicted denial of service. Authentication
// paths have the opposite policy and fail closed; that asymmetry is
// deliberate.
//
// At the admission boundary the caller checks [Detector.IsBlocked] BEFORE
// [Limiter.TryConsume], so blocked IPs never touch limiter state.
package ratelimit
