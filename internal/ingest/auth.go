package ingest

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"github.com/xela07ax/aurora-telemetry/internal/infra/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TokenHeader: ключ метаданных (в gRPC заголовки в нижнем регистре)
const TokenHeader = "x-aurora-token"

// TokenCheck проверяет токен вызова и возвращает клеймы (может вернуть nil)
type TokenCheck func(token string) (*domain.CustomClaims, error)

// StaticToken: общий секрет между исполнителем и коллектором
func StaticToken(secret string) TokenCheck {
	return func(token string) (*domain.CustomClaims, error) {
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			return nil, errors.New("token mismatch")
		}
		return nil, nil
	}
}

// JWTToken: RS256 токен со скоупом telemetry.write
func JWTToken(v auth.TokenValidator) TokenCheck {
	return func(token string) (*domain.CustomClaims, error) {
		claims, err := v.VerifyToken(token)
		if err != nil {
			return nil, err
		}
		if !claims.HasScope(domain.ScopeTelemetryWrite) {
			return nil, errors.New("missing scope " + domain.ScopeTelemetryWrite)
		}
		return claims, nil
	}
}

// UnaryAuthInterceptor проверяет токен в метаданных gRPC вызова
func UnaryAuthInterceptor(check TokenCheck) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		// 1. Извлекаем метаданные из контекста
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Errorf(codes.Unauthenticated, "missing metadata")
		}

		// 2. Ищем токен
		tokens := md.Get(TokenHeader)
		if len(tokens) == 0 {
			return nil, status.Errorf(codes.Unauthenticated, "missing access token")
		}

		// 3. Проверяем и обогащаем контекст
		claims, err := check(tokens[0])
		if err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "invalid access token")
		}
		if claims != nil {
			ctx = auth.WithClaims(ctx, claims)
		}

		// Идем дальше по цепочке
		return handler(ctx, req)
	}
}
