package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TypeAccess is the token-type claim stamped into every access token.
const TypeAccess = "access"

const (
	minSecretBytes = 32
	refreshRawSize = 48
)

var (
	// ErrExpired indicates a structurally valid access token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrIssuerMismatch indicates a valid signature but a foreign issuer.
	ErrIssuerMismatch = errors.New("token issuer mismatch")
	// ErrMalformed covers every other validation failure: bad structure,
	// bad signature, wrong algorithm, wrong token type.
	ErrMalformed = errors.New("token malformed")
)

// Config holds signing material and lifetimes for an [Issuer].
type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Now overrides the clock for expiry computation. Nil means time.Now.
	Now func() time.Time
}

// Claims is the access token claim set. Subject carries the identity id;
// TokenType is always [TypeAccess] for tokens minted here.
type Claims struct {
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer signs and validates access tokens and mints opaque refresh strings.
// Safe for concurrent use after construction.
type Issuer struct {
	config Config
}

// New validates the configuration and returns an [Issuer]. A single active
// signing secret is assumed; key rotation is out of scope.
func New(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) < minSecretBytes {
		return nil, errors.New("signing secret must be at least 32 bytes")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid access TTL")
	}
	if cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid refresh TTL")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{config: cfg}, nil
}

// IssueAccess mints a signed access token for the subject and returns the
// compact token together with its expiry instant.
func (i *Issuer) IssueAccess(subjectID, username, email, role string) (string, time.Time, error) {
	now := i.config.Now()
	expiresAt := now.Add(i.config.AccessTTL)

	claims := Claims{
		Username:  username,
		Email:     email,
		Role:      role,
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.config.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// IssueRefresh mints an independent opaque refresh token string: 48 random
// bytes, base64url. It carries no claims and is never decoded, only looked up.
func (i *Issuer) IssueRefresh() (string, error) {
	var raw [refreshRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidateAccess verifies signature, issuer, expiry, and token type, and
// returns the embedded claims. Failures are classified as [ErrExpired],
// [ErrIssuerMismatch], or [ErrMalformed]; validation is never retried here.
func (i *Issuer) ValidateAccess(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.config.Now),
	)

	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return i.config.Secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, ErrIssuerMismatch
		default:
			return nil, ErrMalformed
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	if claims.TokenType != TypeAccess {
		return nil, ErrMalformed
	}

	return claims, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.config.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.config.RefreshTTL }
