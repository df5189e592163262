// Package httpapi is the HTTP surface of the authentication core: the
// session cookie, the login and registration forms, the OAuth2 authorize and
// token endpoints, and the auth middleware for the rest of the gateway.
//
// # Architecture boundaries
//
// Handlers parse and validate transport concerns (forms, headers, cookies,
// content negotiation) and delegate every decision to the engine. No handler
// reads or writes a token store directly.
//
// # What this package must NOT do
//
//   - Hash, compare, or log any credential or bearer secret.
//   - Invent authorization rules; permission checks come from the resolved
//     principal only.
package httpapi
