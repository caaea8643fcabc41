package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zoomvconnect/signaling/internal/core"
	"github.com/zoomvconnect/signaling/internal/domain"
)

// Verifier checks the signed bearer credential presented on the
// websocket handshake. It only verifies; tokens are issued elsewhere.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify validates signature and expiry and returns the authenticated
// principal id (the "sub" claim). A missing token and a bad token are
// distinct failures so the caller can close with distinct codes.
func (v *Verifier) Verify(token string) (domain.UserID, error) {
	if token == "" {
		return "", core.ErrMissingCredential
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", core.ErrInvalidCredential
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", core.ErrInvalidCredential
	}
	return domain.UserID(sub), nil
}
