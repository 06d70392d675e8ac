package grpc

import (
	"context"
	"net"
	"strings"
	"testing"

	"DiaryPlatform/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type testClaims struct {
	Username string
}

func testAuthenticator(_ context.Context, authorization string) (*testClaims, bool) {
	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || token != "valid" {
		return nil, false
	}
	return &testClaims{Username: "alice"}, true
}

func dial(t *testing.T, interceptors ...grpc.UnaryServerInterceptor) healthpb.HealthClient {
	t.Helper()

	listener := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	healthpb.RegisterHealthServer(server, health.NewServer())

	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return healthpb.NewHealthClient(conn)
}

// TestUnaryAuthInterceptor_Bufconn проверяет отказ без токена и успех с токеном
func TestUnaryAuthInterceptor_Bufconn(t *testing.T) {
	client := dial(t, UnaryAuthInterceptor(testAuthenticator, logger.NewNop()))

	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Equal(t, "Invalid token", status.Convert(err).Message())

	ctx := metadata.AppendToOutgoingContext(context.Background(), AuthorizationHeader, "Bearer valid")
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

// TestUnaryAuthInterceptor_PublicMethod проверяет пропуск публичных методов
func TestUnaryAuthInterceptor_PublicMethod(t *testing.T) {
	client := dial(t,
		UnaryLoggingInterceptor(logger.NewNop()),
		UnaryAuthInterceptor(testAuthenticator, logger.NewNop(), healthpb.Health_Check_FullMethodName))

	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

// TestUnaryAuthInterceptor_ClaimsInContext проверяет передачу claims в обработчик
func TestUnaryAuthInterceptor_ClaimsInContext(t *testing.T) {
	interceptor := UnaryAuthInterceptor(testAuthenticator, logger.NewNop())
	info := &grpc.UnaryServerInfo{FullMethod: "/diary.Auth/Session"}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(AuthorizationHeader, "Bearer valid"))

	resp, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		claims, ok := ClaimsFromContext[*testClaims](ctx)
		require.True(t, ok)
		return claims.Username, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", resp)

	_, err = interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler must not be called")
		return nil, nil
	})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

// TestUnaryAuthInterceptor_PassesCallContext проверяет что проверка токена получает контекст вызова
func TestUnaryAuthInterceptor_PassesCallContext(t *testing.T) {
	type traceKey struct{}
	var seen interface{}
	authenticate := func(ctx context.Context, authorization string) (*testClaims, bool) {
		seen = ctx.Value(traceKey{})
		return testAuthenticator(ctx, authorization)
	}

	interceptor := UnaryAuthInterceptor(authenticate, logger.NewNop())
	ctx := metadata.NewIncomingContext(context.WithValue(context.Background(), traceKey{}, "call-1"),
		metadata.Pairs(AuthorizationHeader, "Bearer valid"))

	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/diary.Auth/Session"},
		func(ctx context.Context, req interface{}) (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, "call-1", seen)
}

// TestClaimsFromContext_Missing проверяет отсутствие claims
func TestClaimsFromContext_Missing(t *testing.T) {
	_, ok := ClaimsFromContext[*testClaims](context.Background())
	assert.False(t, ok)
}
