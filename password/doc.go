// Package password implements credential hashing and verification with
// Argon2id defaults. It hashes both user passwords and OAuth client secrets.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy and
// credential storage belong to the Engine and its providers. Verify is total:
// a malformed stored hash verifies false, it never errors, so a corrupted
// record behaves like a wrong password rather than a server fault.
package password
