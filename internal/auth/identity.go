package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/atmx/wager-engine/internal/model"
)

// DevHeader carries an unauthenticated identity in development mode.
const DevHeader = "X-Wager-Identity"

// ErrMissingCredentials is wrapped by the Unauthorized error returned when
// a request carries no credentials at all.
var ErrMissingCredentials = errors.New("missing bearer token")

type ctxKey struct{}

// WithIdentity returns a context carrying the caller identity.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, ctxKey{}, identity)
}

// Identity returns the caller identity stored in ctx, or "".
func Identity(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Authenticator resolves the caller of an HTTP request.
type Authenticator struct {
	verifier  *Verifier
	devHeader bool
}

// NewAuthenticator creates an authenticator. A nil verifier rejects every
// bearer token; devHeader additionally trusts DevHeader.
func NewAuthenticator(v *Verifier, devHeader bool) *Authenticator {
	return &Authenticator{verifier: v, devHeader: devHeader}
}

// Identify returns the caller identity for r.
func (a *Authenticator) Identify(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", model.ErrUnauthorized.With("authorization header must be \"Bearer <token>\"")
		}
		if a.verifier == nil {
			return "", model.ErrUnauthorized.With("token authentication is not configured")
		}
		return a.verifier.Verify(token)
	}
	if a.devHeader {
		if id := strings.TrimSpace(r.Header.Get(DevHeader)); id != "" {
			return id, nil
		}
	}
	return "", model.ErrUnauthorized.Wrap(ErrMissingCredentials)
}
