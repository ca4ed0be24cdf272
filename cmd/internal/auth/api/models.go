package authapi

import (
	"strings"
	"time"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,max=1024"`
}

func (r *loginRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
}

type accountResponse struct {
	ID             string `json:"id"`
	Email          string `json:"email,omitempty"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id,omitempty"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type loginResponse struct {
	Account accountResponse `json:"account"`
	Token   tokenResponse   `json:"token"`
}

type meResponse struct {
	Account   accountResponse `json:"account"`
	TokenID   string          `json:"token_id"`
	IssuedAt  time.Time       `json:"issued_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type inviteCreateRequest struct {
	Role             string  `json:"role" validate:"required,oneof=admin supervisor operator viewer"`
	OrganizationID   string  `json:"organization_id" validate:"max=128"`
	ExpiresInSeconds int64   `json:"expires_in_seconds" validate:"gte=0"`
	MaxUses          int     `json:"max_uses" validate:"gte=0"`
	Note             *string `json:"note" validate:"omitempty,max=512"`
}

type inviteResponse struct {
	ID             string     `json:"id"`
	Role           string     `json:"role"`
	OrganizationID string     `json:"organization_id,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	MaxUses        int        `json:"max_uses"`
	UsedCount      int        `json:"used_count"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

type inviteCreateResponse struct {
	Invite inviteResponse `json:"invite"`
	Code   string         `json:"code"`
}

type registerRequest struct {
	Code     string `json:"code" validate:"required,max=256"`
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,max=1024"`
}

func (r *registerRequest) normalize() {
	r.Code = strings.TrimSpace(r.Code)
	r.Email = strings.TrimSpace(r.Email)
}
