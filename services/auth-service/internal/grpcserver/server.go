package grpcserver

import (
	"context"
	"net"
	"time"

	pkggrpc "DiaryPlatform/pkg/grpc"
	"DiaryPlatform/pkg/health"
	"DiaryPlatform/pkg/logger"
	"DiaryPlatform/services/auth-service/internal/pkg/jwt"
	"DiaryPlatform/services/auth-service/internal/service"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName имя сервиса в grpc.health.v1
const ServiceName = "diary.auth"

// Server gRPC сервер auth-service
//
// Отдает diary.auth.v1.TokenService, стандартный grpc.health.v1 и reflection.
// Unary вызовы кроме Health Check/List требуют Bearer токен в метаданных authorization
type Server struct {
	server *grpc.Server
	health *grpchealth.Server
	log    logger.Logger
}

// Authenticator собирает проверку метаданных authorization поверх сервиса аутентификации
func Authenticator(auth service.AuthService) pkggrpc.Authenticator[*jwt.TokenClaims] {
	return func(ctx context.Context, authorization string) (*jwt.TokenClaims, bool) {
		claims, err := auth.Authenticate(ctx, authorization)
		return claims, err == nil
	}
}

// New создает gRPC сервер с interceptor логирования и аутентификации
func New(auth service.AuthService, log logger.Logger, opts ...grpc.ServerOption) *Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		pkggrpc.UnaryLoggingInterceptor(log),
		pkggrpc.UnaryAuthInterceptor(Authenticator(auth), log,
			healthpb.Health_Check_FullMethodName,
			healthpb.Health_List_FullMethodName,
		),
	))

	server := grpc.NewServer(opts...)
	server.RegisterService(&TokenServiceDesc, &tokenService{auth: auth, log: log})
	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)

	s := &Server{
		server: server,
		health: healthServer,
		log:    log,
	}
	s.SetServing(true)
	return s
}

// Serve принимает соединения, блокируется до остановки сервера
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC server listening", logger.String("addr", lis.Addr().String()))
	return s.server.Serve(lis)
}

// SetServing переключает статус в grpc.health.v1
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// WatchHealth периодически сверяет статус gRPC health с проверками зависимостей
// Блокируется до отмены контекста
func (s *Server) WatchHealth(ctx context.Context, checker health.HealthChecker, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	sync := func() {
		status := checker.Check(ctx)
		serving := status.Status == health.StatusHealthy
		if !serving {
			s.log.Warn("Dependencies unhealthy, gRPC health set to NOT_SERVING",
				logger.Any("services", status.Services))
		}
		s.SetServing(serving)
	}

	sync()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sync()
		}
	}
}

// GracefulStop переводит health в NOT_SERVING и дожидается завершения активных вызовов
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
