package httpapi

import (
	"time"

	"github.com/bloomkart/backend/internal/auth"
	"github.com/bloomkart/backend/internal/identity"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6,max=100"`
	PhoneNumber string `json:"phoneNumber" validate:"omitempty,max=20"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type profileUpdateRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	PhoneNumber string `json:"phoneNumber" validate:"omitempty,max=20"`
}

// userResponse mirrors the public principal fields; the password hash never
// leaves the server.
type userResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phoneNumber"`
	Role        string    `json:"role"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
}

// authResponse is the issued credential payload. ExpiresIn is in
// milliseconds, matching what existing clients parse.
type authResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	Type         string       `json:"type"`
	User         userResponse `json:"user"`
	ExpiresIn    int64        `json:"expiresIn"`
}

type sessionCountResponse struct {
	ActiveSessions int64 `json:"activeSessions"`
}

func newUserResponse(p *identity.Principal) userResponse {
	return userResponse{
		ID:          p.ID,
		Name:        p.Name,
		Email:       p.Email,
		PhoneNumber: p.PhoneNumber,
		Role:        string(p.Role),
		Enabled:     p.Enabled,
		CreatedAt:   p.CreatedAt,
	}
}

func newAuthResponse(pair *auth.TokenPair, p *identity.Principal) authResponse {
	return authResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Type:         "Bearer",
		User:         newUserResponse(p),
		ExpiresIn:    pair.ExpiresIn.Milliseconds(),
	}
}
