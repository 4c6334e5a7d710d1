package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "offsync"

// ErrInvalidToken токен не прошел проверку
var ErrInvalidToken = errors.New("invalid token")

// Claims JWT claims устройства: токен выдается на пару пользователь/устройство
type Claims struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// Service provides JWT token generation and validation
type Service struct {
	now    func() time.Time
	secret []byte
	ttl    time.Duration
}

// NewService creates a new JWT service
// secret should be a cryptographically secure random string
func NewService(secret string, ttl time.Duration) *Service {
	return &Service{
		now:    time.Now,
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Issue создает подписанный токен устройства
func (s *Service) Issue(userID, deviceID string) (string, time.Time, error) {
	if userID == "" || deviceID == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id and device id are required", ErrInvalidToken)
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		UserID:   userID,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// Validate валидирует и парсит токен
func (s *Service) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		// Проверяем что используется правильный алгоритм подписи
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" || claims.DeviceID == "" {
		return nil, fmt.Errorf("%w: missing user or device", ErrInvalidToken)
	}

	return claims, nil
}
