// Package auth issues and verifies HS256 bearer tokens carrying the caller's
// subject, plus short-lived upload tickets.
package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PurposeUpload marks a token that may only be used to upload a recording.
const PurposeUpload = "upload"

// ErrNoSecret is returned when signing or verifying without a secret.
var ErrNoSecret = stderrors.New("auth.jwt_secret is not configured")

// Identity is the verified caller.
type Identity struct {
	Subject string
	Purpose string
}

// Claims are the registered claims plus the token purpose.
type Claims struct {
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs tokens.
type Issuer struct {
	secret    []byte
	issuer    string
	ttl       time.Duration
	uploadTTL time.Duration
	now       func() time.Time
}

// NewIssuer returns an Issuer for secret. Tokens live ttl; upload tickets
// live uploadTTL.
func NewIssuer(secret, issuer string, ttl, uploadTTL time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, uploadTTL: uploadTTL, now: time.Now}
}

// Issue returns a session token for subject.
func (i *Issuer) Issue(subject string) (string, error) {
	return i.sign(subject, "", i.ttl)
}

// IssueUpload returns an upload ticket for subject.
func (i *Issuer) IssueUpload(subject string) (string, error) {
	return i.sign(subject, PurposeUpload, i.uploadTTL)
}

func (i *Issuer) sign(subject, purpose string, ttl time.Duration) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNoSecret
	}
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("subject is required")
	}
	now := i.now()
	claims := Claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verifier checks tokens signed by an Issuer with the same secret.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier returns a Verifier for secret and issuer.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses token and returns the identity it carries.
func (v *Verifier) Verify(token string) (*Identity, error) {
	if len(v.secret) == 0 {
		return nil, ErrNoSecret
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return &Identity{Subject: claims.Subject, Purpose: claims.Purpose}, nil
}

type ctxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity in ctx, or nil for anonymous callers.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKey{}).(*Identity)
	return id
}

// Subject returns the caller subject in ctx, or "".
func Subject(ctx context.Context) string {
	if id := FromContext(ctx); id != nil {
		return id.Subject
	}
	return ""
}

// BearerToken returns the token in the Authorization header, or "".
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	return ""
}

// Middleware attaches the verified identity to the request context. Missing
// or invalid tokens leave the request anonymous; operations decide whether
// that is allowed.
//
// Tokens are read from the Authorization header. The token query parameter
// is honoured for upload tickets on any path and for session tokens only on
// queryPaths, where clients such as browser websockets cannot set headers.
func Middleware(v *Verifier, queryPaths ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(queryPaths))
	for _, p := range queryPaths {
		allowed[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v != nil {
				if id := identityFromRequest(v, r, allowed); id != nil {
					r = r.WithContext(WithIdentity(r.Context(), id))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func identityFromRequest(v *Verifier, r *http.Request, queryPaths map[string]bool) *Identity {
	if tok := BearerToken(r); tok != "" {
		id, err := v.Verify(tok)
		if err != nil {
			return nil
		}
		return id
	}
	tok := r.URL.Query().Get("token")
	if tok == "" {
		return nil
	}
	id, err := v.Verify(tok)
	if err != nil {
		return nil
	}
	if id.Purpose != PurposeUpload && !queryPaths[r.URL.Path] {
		return nil
	}
	return id
}
