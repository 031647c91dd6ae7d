package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer  = "schema-tenancy"
	tokenTTL     = 24 * time.Hour
	adminSubject = "admin"
)

// ErrInvalidCredentials is returned for a wrong API key or a bad token
var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticator checks the admin API key and issues and verifies the JWTs
// exchanged for it
type Authenticator struct {
	secret       []byte
	adminKeyHash []byte
	now          func() time.Time
}

// NewAuthenticator creates an authenticator. An empty key hash disables API
// key authentication; an empty secret disables tokens.
func NewAuthenticator(secret, adminKeyHash string) *Authenticator {
	return &Authenticator{
		secret:       []byte(secret),
		adminKeyHash: []byte(adminKeyHash),
		now:          time.Now,
	}
}

// ValidateAPIKey compares key against the configured bcrypt hash
func (a *Authenticator) ValidateAPIKey(key string) error {
	if len(a.adminKeyHash) == 0 || key == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.adminKeyHash, []byte(key)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// IssueToken signs a token for subject
func (a *Authenticator) IssueToken(subject string) (string, time.Time, error) {
	if len(a.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("token signing is not configured")
	}

	now := a.now()
	expiresAt := now.Add(tokenTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseToken verifies a token and returns its subject
func (a *Authenticator) ParseToken(tokenString string) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrInvalidCredentials
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidCredentials
	}
	return claims.Subject, nil
}

// GenerateAPIKey returns a random 32 byte key, hex encoded
func GenerateAPIKey() (string, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(keyBytes), nil
}

// HashAPIKey returns the bcrypt hash stored in the configuration
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
