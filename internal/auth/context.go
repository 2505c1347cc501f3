package auth

import (
	"context"
	"errors"
)

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID string
	Role   string
}

var ErrNoIdentity = errors.New("identity not in context")

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom returns the caller set by RequireAccessToken. Both fields are non-empty on success.
func IdentityFrom(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok || id.UserID == "" || id.Role == "" {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

func UserID(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	return id.UserID, err
}

func Role(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	return id.Role, err
}
