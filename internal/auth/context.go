// ABOUTME: Request context helpers for the authenticated operator
// ABOUTME: Shared by the gRPC interceptors and the HTTP middleware

package auth

import "context"

type contextKey struct{}

// Operator identifies the caller behind a verified token.
type Operator struct {
	Subject string
}

// WithOperator returns a context carrying op.
func WithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, contextKey{}, op)
}

// FromContext returns the operator, or nil for unauthenticated requests.
func FromContext(ctx context.Context) *Operator {
	op, _ := ctx.Value(contextKey{}).(*Operator)
	return op
}
