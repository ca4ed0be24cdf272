// Package revocation is the in-memory authority for revoked bearer tokens.
//
// It tracks two things:
//   - individually revoked tokens (by jti), each with an expiry after which the
//     entry is irrelevant because the token itself has expired
//   - blanket account revocations: every token of the account issued before the
//     cutoff is rejected until the revocation is cleared
//
// Signature and expiry verification happen elsewhere (auth/session); this
// package only layers revocation on top of an otherwise valid credential.
//
// Unit contract: account cutoffs are kept at millisecond resolution and
// compared against the token's issued-at in milliseconds. Token iat claims
// carry whole seconds, so a token minted later within the same second as a
// cutoff still reads as issued before it and is rejected.
package revocation
