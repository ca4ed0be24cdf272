// Package password hashes and verifies MES account passwords with Argon2id.
//
// Hashes use the PHC string form ($argon2id$v=19$m=..,t=..,p=..$salt$key).
// Stored hashes are untrusted on Verify: parameters far above the configured
// cost are refused instead of computed.
package password
