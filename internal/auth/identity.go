package auth

import (
	"github.com/golang-jwt/jwt/v4"

	"chattrix/client/internal/models"
)

// Identity is the local user extracted from the session token. The backend
// verifies the token; the client only needs the claims to tell its own
// messages apart from everyone else's.
type Identity struct {
	UserID   int
	Username string
}

// IdentityFromToken extracts user_id and username claims without verifying
// the signature.
func IdentityFromToken(tokenStr string) (*Identity, error) {
	if tokenStr == "" {
		return nil, models.ErrMissingToken
	}

	token, _, err := jwt.NewParser().ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil {
		return nil, models.ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims["user_id"] == nil {
		return nil, models.ErrInvalidToken
	}

	userID, ok := claims["user_id"].(float64)
	if !ok {
		return nil, models.ErrInvalidToken
	}

	identity := &Identity{UserID: int(userID)}
	if username, ok := claims["username"].(string); ok {
		identity.Username = username
	}
	return identity, nil
}
