// Package authcore implements the authentication and token-issuance core of
// the bluFax gateway: cookie and OAuth2 bearer sessions, the authorization-code
// and refresh-token grants, TOTP second-factor login, and the single-use
// authenticity tokens that bind multi-step login flows together.
//
// # Architecture
//
// The root package exposes an [Engine] built through [New]. The Engine
// orchestrates Redis-backed token stores (internal/stores), argon2id password
// hashing (package password), the TOTP verifier, and an HMAC signer that
// derives the opaque lookup hashes under which bearer secrets are persisted.
// User and OAuth-client records live behind the [UserProvider] and
// [ClientProvider] interfaces; package userstore ships Redis-backed reference
// implementations, and package httpapi adapts the Engine to net/http.
//
// # Security model
//
// Raw bearer secrets are never stored. Every access token is persisted under
// HMAC-SHA512(secret, server key), so a database dump yields no usable
// credentials. Authenticity tokens and authorization codes are single-use and
// short-lived; their Redis TTLs are cleanup only, never access control.
package authcore
