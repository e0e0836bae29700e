// Package requestid provides request ID propagation via context.
package requestid

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Header carries the request ID on requests and responses.
const Header = "X-Request-ID"

// LocalsKey is the fiber locals key holding the request ID.
const LocalsKey = "request_id"

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or generates a new one.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Middleware propagates an incoming X-Request-ID or assigns a new one. The ID
// is echoed on the response, stored in locals and attached to the user context.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(Header)
		var ctx context.Context
		if id == "" {
			ctx, id = New(c.UserContext())
		} else {
			ctx = WithRequestID(c.UserContext(), id)
		}
		c.SetUserContext(ctx)
		c.Set(Header, id)
		c.Locals(LocalsKey, id)
		return c.Next()
	}
}
