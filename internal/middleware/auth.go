// Package middleware provides request logging, tracing, rate limiting and reviewer authentication.
package middleware

import (
	"errors"
	"strconv"
	"strings"

	"commentguard/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

// Reviewer tokens are issued by the external identity service; this package only verifies them.
var (
	errMissingSubject = errors.New("Invalid token structure - missing subject")
	errSubjectType    = errors.New("Invalid token subject type")
	errSubjectValue   = errors.New("Invalid reviewer ID in token")
	errInvalidToken   = errors.New("Invalid or expired token")
)

func reviewerFromToken(tokenString string) (uint, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return 0, errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errInvalidToken
	}

	// "sub" claim per RFC 7519
	subClaim, ok := claims["sub"]
	if !ok {
		return 0, errMissingSubject
	}
	subStr, ok := subClaim.(string)
	if !ok {
		return 0, errSubjectType
	}
	reviewerID, err := strconv.ParseUint(subStr, 10, 32)
	if err != nil || reviewerID == 0 {
		return 0, errSubjectValue
	}
	return uint(reviewerID), nil
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("Authorization header required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("Invalid authorization header format")
	}
	return parts[1], nil
}

func unauthorized(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// AuthRequired enforces a valid reviewer token on review API routes and stores
// the reviewer ID in c.Locals("reviewerID").
func AuthRequired(c *fiber.Ctx) error {
	tokenString, err := bearerToken(c)
	if err != nil {
		return unauthorized(c, err)
	}

	reviewerID, err := reviewerFromToken(tokenString)
	if err != nil {
		return unauthorized(c, err)
	}

	c.Locals("reviewerID", reviewerID)
	return c.Next()
}

// WebSocketAuthRequired accepts the token from the "token" query parameter, since
// browsers cannot set headers on WebSocket upgrades, falling back to the header.
func WebSocketAuthRequired(c *fiber.Ctx) error {
	tokenString := c.Query("token")
	if tokenString == "" {
		var err error
		if tokenString, err = bearerToken(c); err != nil {
			return unauthorized(c, errors.New("Token required"))
		}
	}

	reviewerID, err := reviewerFromToken(tokenString)
	if err != nil {
		return unauthorized(c, err)
	}

	c.Locals("reviewerID", reviewerID)
	return c.Next()
}
