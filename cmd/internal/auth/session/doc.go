// Package session issues and validates MES bearer tokens.
//
// Access tokens are HS256 JWTs carrying jti, sub (account id), iat, nbf, exp,
// iss, plus the role and org claims used for pass-through authorization.
// Tokens are stateless; revocation is layered on top through the process-wide
// revocation.Registry handed to NewService.
//
// The Service is the operational surface for logout flows: RevokeToken,
// RevokeAllUserTokens, ClearUserRevocation, IsTokenRevoked and Stats.
package session
