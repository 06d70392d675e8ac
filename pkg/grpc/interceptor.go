package grpc

import (
	"context"
	"time"

	"DiaryPlatform/pkg/errors"
	"DiaryPlatform/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AuthorizationHeader ключ метаданных с токеном
const AuthorizationHeader = "authorization"

// Authenticator проверяет значение заголовка authorization и возвращает claims.
// ctx это контекст входящего вызова
type Authenticator[C any] func(ctx context.Context, authorization string) (C, bool)

type claimsKey struct{}

// UnaryAuthInterceptor проверяет токен во входящих метаданных
//
// Методы из publicMethods (полное имя, например "/grpc.health.v1.Health/Check") пропускаются без проверки
func UnaryAuthInterceptor[C any](authenticate Authenticator[C], log logger.Logger, publicMethods ...string) grpc.UnaryServerInterceptor {
	public := make(map[string]struct{}, len(publicMethods))
	for _, method := range publicMethods {
		public[method] = struct{}{}
	}

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if _, ok := public[info.FullMethod]; ok {
			return handler(ctx, req)
		}

		var authorization string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get(AuthorizationHeader); len(values) > 0 {
				authorization = values[0]
			}
		}

		claims, ok := authenticate(ctx, authorization)
		if !ok {
			log.Warn("Unauthenticated gRPC call",
				logger.CtxField(ctx),
				logger.String("method", info.FullMethod))
			return nil, errors.New(errors.ErrUnauthorized, "Invalid token").ToGRPCErr()
		}

		return handler(context.WithValue(ctx, claimsKey{}, claims), req)
	}
}

// ClaimsFromContext возвращает claims, положенные UnaryAuthInterceptor
func ClaimsFromContext[C any](ctx context.Context) (C, bool) {
	claims, ok := ctx.Value(claimsKey{}).(C)
	return claims, ok
}

// UnaryLoggingInterceptor логирует gRPC вызовы с кодом ответа и длительностью
func UnaryLoggingInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []logger.Field{
			logger.CtxField(ctx),
			logger.String("method", info.FullMethod),
			logger.String("code", status.Code(err).String()),
			logger.Duration("duration", time.Since(start)),
		}
		if err != nil {
			log.Warn("gRPC call failed", append(fields, logger.Error(err))...)
		} else {
			log.Debug("gRPC call completed", fields...)
		}

		return resp, err
	}
}
