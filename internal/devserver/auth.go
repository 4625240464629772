package devserver

import (
	"errors"
	"strings"
	"time"

	"bulletin/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer   = "bulletin-devserver"
	tokenAudience = "bulletin-client"
	identityLocal = "identity"
)

// IssueToken signs a session token whose subject is id.
func IssueToken(secret string, id models.Identity, ttl time.Duration) (string, error) {
	if id.IsAnonymous() {
		return "", models.NewValidationError("identity is required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Audience:  jwt.ClaimStrings{tokenAudience},
		Subject:   string(id),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// parseToken verifies tokenString and returns its subject.
func parseToken(secret, tokenString string) (models.Identity, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(secret), nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return models.Anonymous, models.NewUnauthorizedError("Invalid or expired token")
	}
	if claims.Subject == "" {
		return models.Anonymous, models.NewUnauthorizedError("Invalid subject claim")
	}
	return models.Identity(claims.Subject), nil
}

func bearer(c *fiber.Ctx) (string, error) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return "", nil
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", models.NewUnauthorizedError("Invalid authorization header format")
	}
	return parts[1], nil
}

// Authenticate resolves the caller identity. Without a token the caller is
// anonymous unless required is set. A present but invalid token always fails.
func (s *Server) Authenticate(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, err := bearer(c)
		if err != nil {
			return respondError(c, err)
		}
		if tokenString == "" {
			if required {
				return respondError(c, models.NewUnauthorizedError("Authorization required"))
			}
			c.Locals(identityLocal, models.Anonymous)
			return c.Next()
		}

		id, err := parseToken(s.config.JWTSecret, tokenString)
		if err != nil {
			return respondError(c, err)
		}
		c.Locals(identityLocal, id)
		return c.Next()
	}
}

func caller(c *fiber.Ctx) models.Identity {
	id, _ := c.Locals(identityLocal).(models.Identity)
	return id
}

// respondError writes the standard error body with the status for err's code.
func respondError(c *fiber.Ctx, err error) error {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
		}
		appErr = models.NewTransientError(err)
	}

	status := fiber.StatusInternalServerError
	switch appErr.Code {
	case models.CodeValidation:
		status = fiber.StatusBadRequest
	case models.CodeUnauthorized:
		status = fiber.StatusForbidden
		if caller(c).IsAnonymous() {
			status = fiber.StatusUnauthorized
		}
	case models.CodeNotFound:
		status = fiber.StatusNotFound
	case models.CodeTransient, models.CodeChannelUnavailable:
		status = fiber.StatusServiceUnavailable
	}

	resp := models.ErrorResponse{Error: appErr.Message, Code: appErr.Code}
	if appErr.Err != nil && status != fiber.StatusServiceUnavailable {
		resp.Details = appErr.Err.Error()
	}
	return c.Status(status).JSON(resp)
}
