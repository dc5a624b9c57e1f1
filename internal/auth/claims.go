package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"consult-platform/internal/participant"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Identity and kind are taken from verified claims, never from client payloads.
type Claims struct {
	jwt.RegisteredClaims

	ParticipantID string           `json:"participant_id"`
	Kind          participant.Kind `json:"kind"`
	TokenType     TokenType        `json:"token_type"`
}
