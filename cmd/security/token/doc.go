// Package token hashes opaque one-time codes (enrollment invites) for storage.
//
// Codes are never stored in plain form. With MES_TOKEN_HMAC_KEY set the
// digest is HMAC-SHA256(code, key); without it the digest is a bare SHA-256,
// which is acceptable for local runs only. Output is always 64 hex chars.
package token
