/*
auth.go - Bearer token authentication and actor resolution

PURPOSE:
  Turns "Authorization: Bearer <jwt>" into a ledger.Actor. The token only
  names the person (sub claim); role and permissions are re-read from the
  store on every request, so a revoked permission or a soft-deleted person
  takes effect immediately.

TOKENS:
  HS512, issuer checked, expiry required. Minted by `merit-ledger token`.

FAILURES:
  Missing header, bad signature, expired token, unknown or deleted
  person: 401 {"message": "please log in again"}.

SEE ALSO:
  - ledger/queries.go: ResolveActor
  - cli/token.go: Token minting
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/merit-ledger/ledger"
	"github.com/warp/merit-ledger/logging"
)

// Tokens issues and verifies bearer tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token service signing with secret.
func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	return &Tokens{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue mints a token for person.
func (t *Tokens) Issue(person ledger.PersonID) (string, error) {
	return t.IssueFor(person, t.ttl)
}

// IssueFor mints a token for person valid for ttl.
func (t *Tokens) IssueFor(person ledger.PersonID, ttl time.Duration) (string, error) {
	if person == "" {
		return "", errors.New("token subject cannot be empty")
	}
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   string(person),
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(t.secret)
}

// Verify checks a token and returns its subject.
func (t *Tokens) Verify(tokenString string) (ledger.PersonID, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	return ledger.PersonID(claims.Subject), nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type personKey struct{}

// Authenticate resolves the bearer token to an active person and stores
// it in the request context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, r, ledger.Errorf(ledger.CodeUnauthenticated, "please log in again"))
			return
		}
		sub, err := h.Tokens.Verify(raw)
		if err != nil {
			logging.FromContext(ctx).DebugContext(ctx, "token rejected", logging.FieldError, err)
			writeError(w, r, ledger.Errorf(ledger.CodeUnauthenticated, "please log in again"))
			return
		}
		person, err := h.Engine.ResolveActor(ctx, sub)
		if err != nil {
			writeError(w, r, err)
			return
		}

		ctx = context.WithValue(ctx, personKey{}, person)
		ctx = logging.NewContext(ctx, logging.FromContext(ctx).With(logging.FieldActorID, person.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PersonFrom returns the authenticated person, or nil outside Authenticate.
func PersonFrom(ctx context.Context) *ledger.Person {
	p, _ := ctx.Value(personKey{}).(*ledger.Person)
	return p
}

// ActorFrom returns the authenticated actor. The zero Actor is rejected
// by every engine operation as unauthenticated.
func ActorFrom(ctx context.Context) ledger.Actor {
	if p := PersonFrom(ctx); p != nil {
		return p.Actor()
	}
	return ledger.Actor{}
}
