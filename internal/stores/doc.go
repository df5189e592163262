// Package stores implements the Redis-backed token collections: access
// tokens, authorization codes, authenticity (flow) tokens, and password
// resets.
//
// # Record layout
//
// Records are stored as versioned binary values under prefixed keys. Every
// key carries a TTL matching the token's hard expiry; the TTL is storage
// garbage collection only. Expiry and one-time-use checks are enforced in
// application logic, never delegated to Redis eviction.
//
// # Atomicity
//
// One-time consumption (authorization codes, flow tokens, password resets)
// runs under WATCH with a transactional delete, so at most one of two
// concurrent redeemers wins. Sliding-window access-token renewal is a plain
// read-then-write; a lost update there only shortens an extension, which is
// acceptable.
//
// # Architecture boundaries
//
// Stores persist and guard single records. They never hash secrets (the
// engine's signer supplies lookup hashes), never consult user records, and
// never decide authentication outcomes.
package stores
