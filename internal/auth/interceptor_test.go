// ABOUTME: Tests for the bearer token gRPC interceptors and HTTP middleware
// ABOUTME: Checks that valid tokens reach handlers with the operator attached

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func validToken(t *testing.T, v *JWTVerifier) string {
	t.Helper()
	token, err := v.Generate("dispatcher", time.Hour)
	require.NoError(t, err)
	return token
}

func TestUnaryInterceptor(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	interceptor := UnaryInterceptor(v, nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/timecard.v1.RegistrationService/ListPending"}

	tests := []struct {
		name   string
		md     metadata.MD
		wantOK bool
	}{
		{"valid", metadata.Pairs("authorization", "Bearer "+validToken(t, v)), true},
		{"no metadata", nil, false},
		{"no header", metadata.Pairs("x-other", "1"), false},
		{"not bearer", metadata.Pairs("authorization", "Basic abc"), false},
		{"bad token", metadata.Pairs("authorization", "Bearer nope"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}

			var seen *Operator
			resp, err := interceptor(ctx, "req", info, func(ctx context.Context, req any) (any, error) {
				seen = FromContext(ctx)
				return "ok", nil
			})

			if tt.wantOK {
				require.NoError(t, err)
				assert.Equal(t, "ok", resp)
				require.NotNil(t, seen)
				assert.Equal(t, "dispatcher", seen.Subject)
				return
			}
			assert.Equal(t, codes.Unauthenticated, status.Code(err))
			assert.Nil(t, seen, "handler must not run")
		})
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeStream) Context() context.Context { return f.ctx }

func TestStreamInterceptor(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	interceptor := StreamInterceptor(v, nil)
	info := &grpc.StreamServerInfo{FullMethod: "/timecard.v1.NotificationService/StreamEvents"}

	t.Run("valid", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(),
			metadata.Pairs("authorization", "Bearer "+validToken(t, v)))
		var seen *Operator
		err := interceptor(nil, &fakeStream{ctx: ctx}, info, func(srv any, ss grpc.ServerStream) error {
			seen = FromContext(ss.Context())
			return nil
		})
		require.NoError(t, err)
		require.NotNil(t, seen)
		assert.Equal(t, "dispatcher", seen.Subject)
	})

	t.Run("missing", func(t *testing.T) {
		err := interceptor(nil, &fakeStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error {
			t.Fatal("handler must not run")
			return nil
		})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})
}

func TestHTTPMiddleware(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	handler := HTTPMiddleware(v, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(FromContext(r.Context()).Subject))
	}))

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.Header.Set("Authorization", "Bearer "+validToken(t, v))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "dispatcher", rec.Body.String())
	})

	for _, header := range []string{"", "Token abc", "Bearer ", "Bearer junk"} {
		t.Run("rejects "+header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}
