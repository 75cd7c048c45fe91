package ports

import (
	"context"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
)

// CheckoutSurface opens the external payment UI for an order. It is a black box:
// the success payload comes back through the top-up flow, not through this call.
type CheckoutSurface interface {
	Open(ctx context.Context, handoff domain.CheckoutHandoff) (domain.CheckoutHandoff, error)
}

// TokenSource supplies the bearer token sent to the backend.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
