package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mes/cmd/identity/ids"
)

// Principal is the identity a token is minted for.
type Principal struct {
	AccountID      string
	Role           string
	OrganizationID string
}

// AccessClaims is the identity envelope propagated across HTTP and WS.
//
// IssuedAt carries whole seconds (the iat claim); revocation cutoffs are
// compared against it in milliseconds.
type AccessClaims struct {
	TokenID        string    `json:"jti"`
	AccountID      string    `json:"sub"`
	Role           string    `json:"role,omitempty"`
	OrganizationID string    `json:"org,omitempty"`
	Issuer         string    `json:"iss"`
	IssuedAt       time.Time `json:"iat"`
	ExpiresAt      time.Time `json:"exp"`
}

// Principal returns the identity the token was minted for.
func (c AccessClaims) Principal() Principal {
	return Principal{AccountID: c.AccountID, Role: c.Role, OrganizationID: c.OrganizationID}
}

// AccessTokenManager issues and verifies access tokens.
type AccessTokenManager interface {
	Issue(p Principal, now time.Time) (token string, claims AccessClaims, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
}

type jwtClaims struct {
	Role string `json:"role,omitempty"`
	Org  string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager is an AccessTokenManager signing HS256 JWTs.
type JWTManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	secret    []byte
}

// NewJWTManager builds a JWTManager from cfg.
func NewJWTManager(cfg Config) (*JWTManager, error) {
	if strings.TrimSpace(cfg.Secret) == "" || cfg.AccessTokenTTL <= 0 || cfg.ClockSkew < 0 {
		return nil, ErrConfig
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrConfig
	}

	return &JWTManager{
		issuer:    issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    []byte(cfg.Secret),
	}, nil
}

// Issue signs a new access token for p. The jti is a fresh ULID.
func (m *JWTManager) Issue(p Principal, now time.Time) (string, AccessClaims, error) {
	accountID := strings.TrimSpace(p.AccountID)
	if accountID == "" {
		return "", AccessClaims{}, ErrInvalidToken
	}

	jti, err := ids.NewULID(now)
	if err != nil {
		return "", AccessClaims{}, err
	}

	iat := jwt.NewNumericDate(now)
	exp := jwt.NewNumericDate(now.Add(m.ttl))

	claims := jwtClaims{
		Role: p.Role,
		Org:  p.OrganizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   accountID,
			Issuer:    m.issuer,
			IssuedAt:  iat,
			NotBefore: iat,
			ExpiresAt: exp,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", AccessClaims{}, err
	}

	return signed, AccessClaims{
		TokenID:        jti,
		AccountID:      accountID,
		Role:           p.Role,
		OrganizationID: p.OrganizationID,
		Issuer:         m.issuer,
		IssuedAt:       iat.Time,
		ExpiresAt:      exp.Time,
	}, nil
}

// Verify checks signature, algorithm, issuer and time claims as of now.
func (m *JWTManager) Verify(token string, now time.Time) (AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > 4096 {
		return AccessClaims{}, VerifyError{Reason: "malformed"}
	}

	// Fresh parser per call so the clock is the caller's now.
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)

	var c jwtClaims
	parsed, err := p.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return AccessClaims{}, VerifyError{Reason: verifyReason(err)}
	}
	if !parsed.Valid {
		return AccessClaims{}, VerifyError{Reason: "invalid"}
	}

	if c.ID == "" || c.Subject == "" || c.IssuedAt == nil {
		return AccessClaims{}, VerifyError{Reason: "missing claims"}
	}

	return AccessClaims{
		TokenID:        c.ID,
		AccountID:      c.Subject,
		Role:           c.Role,
		OrganizationID: c.Org,
		Issuer:         c.Issuer,
		IssuedAt:       c.IssuedAt.Time,
		ExpiresAt:      c.ExpiresAt.Time,
	}, nil
}

func verifyReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "not yet valid"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing claims"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	default:
		return "malformed"
	}
}
