// Package userstore is the Redis-backed account backend: user records, OAuth
// client registrations, and runtime settings. It implements the provider
// interfaces of the root package.
//
// # Architecture boundaries
//
// The store persists password and client-secret hashes exactly as handed to
// it. Hashing, token issuance, and authentication decisions live in the root
// package; userstore only guarantees record integrity and the uniqueness of
// the email index.
//
// # What this package must NOT do
//
//   - Hash or verify any credential.
//   - Read or interpret TOTP secrets beyond storing them.
//   - Touch the token keyspace of the root package's stores.
package userstore
