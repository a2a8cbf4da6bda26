package grpcx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// RequestIDMetadataKey carries the request id over gRPC metadata. Metadata
// keys are lowercased on the wire, so it is declared lowercase here.
const RequestIDMetadataKey = "x-request-id"

type requestIDKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func NewRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
