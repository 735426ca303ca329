// Package auth validates JWT bearer tokens for the portal's admin surface.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/strongaya/federated-data-portal/internal/config"
)

// ScopeRefresh permits triggering a manual data refresh.
const ScopeRefresh = "portal.refresh"

// Principal represents the authenticated caller.
type Principal struct {
	Subject string
	Scopes  []string
	Token   string
}

// Error categorises authentication failures.
type Error struct {
	Status int
	Title  string
	Detail string
}

func (e Error) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Title
}

var (
	errMissingAuthorization = Error{Status: http.StatusUnauthorized, Title: "Authentication Required", Detail: "Missing authorization header"}
	errMalformedHeader      = Error{Status: http.StatusUnauthorized, Title: "Authentication Required", Detail: "Malformed authorization header"}
	errTokenInvalid         = Error{Status: http.StatusUnauthorized, Title: "Authentication Required", Detail: "Invalid or expired token"}
)

// Authenticator validates JWT bearer tokens.
type Authenticator struct {
	secret    []byte
	audiences []string
	issuer    string
}

// New constructs an authenticator from configuration.
func New(cfg config.AuthConfig) (*Authenticator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret not configured")
	}

	return &Authenticator{
		secret:    []byte(cfg.Secret),
		audiences: cfg.Audiences,
		issuer:    cfg.Issuer,
	}, nil
}

// Authenticate validates the request's bearer token.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, errMissingAuthorization
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, errMalformedHeader
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return nil, errMalformedHeader
	}

	claims := jwt.MapClaims{}
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, parserOpts...)
	if err != nil || !token.Valid {
		return nil, errTokenInvalid
	}

	if len(a.audiences) > 0 {
		aud, err := claims.GetAudience()
		if err != nil || !audienceMatches(aud, a.audiences) {
			return nil, errTokenInvalid
		}
	}

	subject, _ := claims.GetSubject()

	return &Principal{
		Subject: subject,
		Scopes:  extractScopes(claims),
		Token:   tokenString,
	}, nil
}

// HasAnyScope reports whether the principal holds at least one of the
// required scopes.
func (p *Principal) HasAnyScope(required []string) bool {
	if len(required) == 0 {
		return true
	}
	if p == nil {
		return false
	}
	for _, want := range required {
		for _, have := range p.Scopes {
			if want == have {
				return true
			}
		}
	}
	return false
}

func audienceMatches(claimed jwt.ClaimStrings, allowed []string) bool {
	for _, want := range allowed {
		for _, have := range claimed {
			if want == have {
				return true
			}
		}
	}
	return false
}

func extractScopes(claims jwt.MapClaims) []string {
	raw, ok := claims["scope"]
	if !ok {
		return nil
	}

	switch value := raw.(type) {
	case string:
		return strings.Fields(value)
	case []interface{}:
		scopes := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := item.(string); ok && s != "" {
				scopes = append(scopes, s)
			}
		}
		return scopes
	default:
		return nil
	}
}
