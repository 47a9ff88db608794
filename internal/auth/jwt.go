package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("auth: token required")
	ErrInvalidToken = errors.New("auth: invalid or expired token")
)

// Identity is what a validated token says about its bearer.
type Identity struct {
	UserID   int64
	UserType string
}

type Authenticator interface {
	Authenticate(token string) (Identity, error)
}

type Claims struct {
	UserType string `json:"userType,omitempty"`
	jwt.RegisteredClaims
}

// HMACVerifier validates HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) (*HMACVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: HS256 requires a secret")
	}
	return &HMACVerifier{secret: []byte(secret)}, nil
}

func (v *HMACVerifier) Authenticate(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, claims.Subject)
	}
	return Identity{UserID: id, UserType: claims.UserType}, nil
}

// Issue signs a token for userID valid for ttl.
func (v *HMACVerifier) Issue(userID int64, userType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserType: userType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Anonymous accepts every caller as user 0. Used when no secret is set.
type Anonymous struct{}

func (Anonymous) Authenticate(string) (Identity, error) { return Identity{}, nil }

// FromSecret returns an HMAC verifier, or Anonymous when secret is empty.
func FromSecret(secret string) (Authenticator, error) {
	if secret == "" {
		return Anonymous{}, nil
	}
	v, err := NewHMACVerifier(secret)
	if err != nil {
		return nil, err
	}
	return v, nil
}
