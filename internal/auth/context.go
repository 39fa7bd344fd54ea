package auth

import (
	"context"
	"fmt"

	"github.com/clinicdesk/clinic-scheduling/internal/apperr"
	"github.com/clinicdesk/clinic-scheduling/internal/directory"
)

var errMissingToken = fmt.Errorf("missing bearer token: %w", apperr.ErrUnauthorized)

func WithPrincipal(ctx context.Context, p directory.Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (directory.Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(directory.Principal)
	return p, ok
}
