package requestdata

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// RequestData carries the authenticated request identity through handler and
// service layers.
type RequestData struct {
	UserID    uuid.UUID
	Email     string
	RequestID string
}

func With(ctx context.Context, rd *RequestData) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, rd)
}

func Get(ctx context.Context) *RequestData {
	if ctx == nil {
		return nil
	}
	rd, _ := ctx.Value(ctxKey{}).(*RequestData)
	return rd
}
