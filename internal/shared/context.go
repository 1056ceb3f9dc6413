package shared

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// Operator identifies the staff member acting on a request. Identity is
// established upstream by the gateway; this service only carries it.
type Operator struct {
	ID   int64
	Name string
}

// Valid reports whether the operator carries both an id and a display name.
func (o Operator) Valid() bool {
	return o.ID > 0 && strings.TrimSpace(o.Name) != ""
}

const (
	// HeaderOperatorID carries the authenticated staff id.
	HeaderOperatorID = "X-Operator-ID"
	// HeaderOperatorName carries the staff display name.
	HeaderOperatorName = "X-Operator-Name"
)

type operatorContextKey struct{}

// ContextWithOperator stores the operator in context.
func ContextWithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, op)
}

// OperatorFromContext extracts the operator from context.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorContextKey{}).(Operator)
	return op, ok
}

// OperatorMiddleware copies gateway identity headers into the request context.
// Requests without a parseable id pass through anonymously.
func OperatorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(HeaderOperatorID))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		op := Operator{ID: id, Name: strings.TrimSpace(r.Header.Get(HeaderOperatorName))}
		next.ServeHTTP(w, r.WithContext(ContextWithOperator(r.Context(), op)))
	})
}
