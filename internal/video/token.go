// Package video issues short-lived RTC access tokens for video sessions.
package video

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token is embedded in session:started for each party.
type Token struct {
	AppID     string    `json:"app_id"`
	Channel   string    `json:"channel"`
	UID       uint32    `json:"uid"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenIssuer grants a participant access to one channel.
type TokenIssuer interface {
	IssueToken(channel string, uid uint32) (Token, error)
}

// Claims is the payload of an RTC token. The media edge validates it with the
// shared app certificate.
type Claims struct {
	Channel string `json:"channel"`
	UID     uint32 `json:"uid"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

const RolePublisher = "publisher"

// Issuer signs HS256 RTC tokens with the app certificate.
type Issuer struct {
	appID string
	cert  []byte
	ttl   time.Duration
	clock func() time.Time
}

var (
	ErrNotConfigured = errors.New("video: app id and certificate are required")
	ErrInvalidGrant  = errors.New("video: channel and uid are required")
)

func NewIssuer(appID, appCertificate string, ttl time.Duration) (*Issuer, error) {
	if appID == "" || appCertificate == "" {
		return nil, ErrNotConfigured
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Issuer{appID: appID, cert: []byte(appCertificate), ttl: ttl, clock: time.Now}, nil
}

func (i *Issuer) IssueToken(channel string, uid uint32) (Token, error) {
	if channel == "" || uid == 0 {
		return Token{}, ErrInvalidGrant
	}
	now := i.clock().UTC()
	exp := now.Add(i.ttl)

	claims := Claims{
		Channel: channel,
		UID:     uid,
		Role:    RolePublisher,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.appID,
			Subject:   strconv.FormatUint(uint64(uid), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cert)
	if err != nil {
		return Token{}, err
	}
	return Token{AppID: i.appID, Channel: channel, UID: uid, Token: signed, ExpiresAt: exp}, nil
}

// Verify parses a token issued by i. Used by the media edge and tests.
func (i *Issuer) Verify(token string) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.appID),
		jwt.WithTimeFunc(i.clock),
	)
	_, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return i.cert, nil
	})
	if err != nil {
		return Claims{}, err
	}
	return claims, nil
}
