// Package identity holds MES accounts: the principals that log in and carry
// a role and an organization into their access tokens.
//
// Stores never hash passwords; callers pass an encoded hash produced by
// mes/cmd/security/password.
package identity
