package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
)

var ErrNoPublicKey = errors.New("auth: public key data is empty")

type ValidatorOptions struct {
	// Issuer: ожидаемый iss. Пусто: не проверяем
	Issuer string
	// Leeway: допуск на расхождение часов консоли и телеметрии
	Leeway time.Duration
}

// RSAValidator проверяет операторские токены консоли и токены исполнителей
// для gRPC ingest. Подпись только RS*, exp обязателен.
type RSAValidator struct {
	key    *rsa.PublicKey
	parser *jwt.Parser
}

func NewRSAValidator(key *rsa.PublicKey, opts ValidatorOptions) *RSAValidator {
	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(opts.Leeway),
	}
	if opts.Issuer != "" {
		popts = append(popts, jwt.WithIssuer(opts.Issuer))
	}
	return &RSAValidator{key: key, parser: jwt.NewParser(popts...)}
}

// VerifyToken принимает и "Bearer <jwt>", и голый токен.
func (v *RSAValidator) VerifyToken(raw string) (*domain.CustomClaims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return nil, errors.New("empty token")
	}

	claims := &domain.CustomClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// ParseRSAPublicKey: PEM из auth.public_key_path
func ParseRSAPublicKey(pem []byte) (*rsa.PublicKey, error) {
	if len(pem) == 0 {
		return nil, ErrNoPublicKey
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse rsa public key: %w", err)
	}
	return key, nil
}
