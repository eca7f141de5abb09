package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// Скоупы доступа к консоли и ingest
const (
	ScopeAdmin          = "admin"
	ScopeDashboardRead  = "dashboard.read"
	ScopeConsentWrite   = "consent.write"
	ScopeTelemetryWrite = "telemetry.write"
)

type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "admin": true или "dashboard.read": true
	jwt.RegisteredClaims
}

// HasScope: admin покрывает любой скоуп
func (c *CustomClaims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	return c.Scopes[ScopeAdmin] || c.Scopes[scope]
}
