package rentalhttp

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"

	"rentalBack/internal/rental/fsm"
)

// IssueToken signs an HS256 access token for uid that Authenticate accepts.
func IssueToken(secret []byte, uid string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty signing key")
	}
	if uid == "" {
		return "", errors.New("empty subject")
	}
	if uid == fsm.SystemActor {
		return "", errors.New("reserved subject")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		ExpiresAt: time.Now().Add(ttl).Unix(),
		IssuedAt:  time.Now().Unix(),
		Subject:   uid,
	})
	return token.SignedString(secret)
}
