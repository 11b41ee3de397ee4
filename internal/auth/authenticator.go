package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/goevery/livefeed/internal/ierr"
	"github.com/golang-jwt/jwt/v5"
)

const (
	Audience     = "livefeed"
	ScopePublish = "publish"
)

type Claims struct {
	jwt.RegisteredClaims
	Scope []string `json:"scope,omitempty"`
}

type Authentication struct {
	Subject string
	Scope   []string
	IsAdmin bool
}

func (a *Authentication) IsPublisher() bool {
	return a.IsAdmin || slices.Contains(a.Scope, ScopePublish)
}

type contextKey string

const authenticationKey contextKey = "authentication"

func WithAuthentication(ctx context.Context, auth *Authentication) context.Context {
	return context.WithValue(ctx, authenticationKey, auth)
}

func AuthenticationFromContext(ctx context.Context) (*Authentication, bool) {
	auth, ok := ctx.Value(authenticationKey).(*Authentication)
	return auth, ok
}

// Authenticator checks the credentials of callers of the announce and stats
// endpoints. The event stream itself is public.
type Authenticator struct {
	secret    []byte
	apiKeys   []string
	jwtParser *jwt.Parser
}

func NewAuthenticator(secret string, apiKeys []string) *Authenticator {
	jwtParser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithAudience(Audience),
	)

	keys := make([]string, 0, len(apiKeys))
	for _, key := range apiKeys {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}

	return &Authenticator{
		secret:    []byte(secret),
		apiKeys:   keys,
		jwtParser: jwtParser,
	}
}

func (a *Authenticator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("unexpected signing method"))
	}
	return a.secret, nil
}

// Authenticate accepts either a configured API key or a signed JWT.
func (a *Authenticator) Authenticate(credential string) (*Authentication, error) {
	if credential == "" {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("missing credentials"))
	}

	if authentication, err := a.AuthenticateAPIKey(credential); err == nil {
		return authentication, nil
	}

	return a.AuthenticateJWT(credential)
}

func (a *Authenticator) AuthenticateJWT(tokenString string) (*Authentication, error) {
	if len(a.secret) == 0 {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("jwt authentication is disabled"))
	}

	claims := Claims{}

	_, err := a.jwtParser.ParseWithClaims(tokenString, &claims, a.keyFunc)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("invalid subject claim"))
	}

	return &Authentication{
		Subject: subject,
		Scope:   claims.Scope,
		IsAdmin: false,
	}, nil
}

func (a *Authenticator) AuthenticateAPIKey(apiKey string) (*Authentication, error) {
	for _, key := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			return &Authentication{
				Subject: "api",
				Scope:   []string{ScopePublish},
				IsAdmin: true,
			}, nil
		}
	}

	return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("invalid api key"))
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) string {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}

	return strings.TrimSpace(token)
}
