package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/clipnote/clipnote-backend/internal/logger"
	"github.com/clipnote/clipnote-backend/internal/requestdata"
	"github.com/clipnote/clipnote-backend/internal/utils"
)

// AuthService verifies bearer tokens issued by the identity provider and
// stamps the owner onto the request context. Tokens are HS256 with the owner
// UUID in the subject claim.
type AuthService interface {
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
}

type authService struct {
	secret []byte
	log    *logger.Logger
}

func NewAuthService(log *logger.Logger) AuthService {
	secret := utils.GetEnv("JWT_SECRET", "", log)
	if secret == "" {
		log.Warn("JWT_SECRET is empty, all tokens will be rejected")
	}
	return &authService{secret: []byte(secret), log: log.With("service", "AuthService")}
}

func (s *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if len(s.secret) == 0 {
		return ctx, fmt.Errorf("token verification unavailable")
	}

	token, err := jwt.Parse(strings.TrimSpace(tokenString), func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return ctx, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return ctx, fmt.Errorf("invalid token claims")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return ctx, fmt.Errorf("token missing subject")
	}
	ownerID, err := uuid.Parse(sub)
	if err != nil {
		return ctx, fmt.Errorf("token subject is not a uuid")
	}

	rd := &requestdata.RequestData{TokenString: tokenString, OwnerID: ownerID}
	return requestdata.WithRequestData(ctx, rd), nil
}
