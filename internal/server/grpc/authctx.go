package grpcserver

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
)

type ctxKey string

const principalKey ctxKey = "fitsync.principal"

// Principal is the authenticated caller of an RPC.
type Principal struct {
	Subject  uuid.UUID
	AuthTime time.Time // last password verification
}

// WithPrincipal stores the authenticated caller in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx fetches the authenticated caller from context.
func PrincipalFromCtx(ctx context.Context) (Principal, bool) {
	v := ctx.Value(principalKey)
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}
