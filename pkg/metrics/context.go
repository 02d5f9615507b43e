package metrics

import "context"

type opKey struct{}

// WithOp tags ctx with the operation name used as the op label further down the stack.
func WithOp(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, opKey{}, op)
}

// OpFromContext returns the operation tagged by WithOp, or "unknown".
func OpFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if op, ok := ctx.Value(opKey{}).(string); ok && op != "" {
		return op
	}
	return "unknown"
}
