package grpcserver

import (
	"context"
	"encoding/json"
	"errors"

	apperrors "DiaryPlatform/pkg/errors"
	pkggrpc "DiaryPlatform/pkg/grpc"
	"DiaryPlatform/pkg/logger"
	"DiaryPlatform/services/auth-service/internal/pkg/jwt"
	"DiaryPlatform/services/auth-service/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Имена сервиса проверки токенов. Сообщения стандартные (Empty, Struct, StringValue),
// поэтому .proto файл и кодогенерация не нужны
const (
	TokenServiceName                         = "diary.auth.v1.TokenService"
	TokenService_VerifyToken_FullMethodName  = "/diary.auth.v1.TokenService/VerifyToken"
	TokenService_RefreshToken_FullMethodName = "/diary.auth.v1.TokenService/RefreshToken"
)

// TokenServiceServer сервис для соседних сервисов платформы.
// Оба метода требуют Bearer токен в метаданных authorization
type TokenServiceServer interface {
	// VerifyToken возвращает claims токена из метаданных
	VerifyToken(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// RefreshToken перевыпускает токен из метаданных с новым сроком жизни
	RefreshToken(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
}

// TokenServiceDesc описание сервиса для grpc.Server.RegisterService
var TokenServiceDesc = grpc.ServiceDesc{
	ServiceName: TokenServiceName,
	HandlerType: (*TokenServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "VerifyToken", Handler: verifyTokenHandler},
		{MethodName: "RefreshToken", Handler: refreshTokenHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "diary/auth/v1/token.proto",
}

func verifyTokenHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TokenServiceServer).VerifyToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TokenService_VerifyToken_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TokenServiceServer).VerifyToken(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func refreshTokenHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TokenServiceServer).RefreshToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TokenService_RefreshToken_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TokenServiceServer).RefreshToken(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// tokenService реализует TokenServiceServer поверх AuthService
type tokenService struct {
	auth service.AuthService
	log  logger.Logger
}

func (s *tokenService) VerifyToken(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	claims, ok := pkggrpc.ClaimsFromContext[*jwt.TokenClaims](ctx)
	if !ok {
		return nil, apperrors.New(apperrors.ErrUnauthorized, "Invalid token").ToGRPCErr()
	}

	// Поля ответа совпадают с JSON полезной нагрузкой токена
	raw, err := json.Marshal(claims)
	if err != nil {
		return nil, s.internal(ctx, err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, s.internal(ctx, err)
	}

	result, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, s.internal(ctx, err)
	}
	return result, nil
}

func (s *tokenService) RefreshToken(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	var authorization string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(pkggrpc.AuthorizationHeader); len(values) > 0 {
			authorization = values[0]
		}
	}

	token, _ := jwt.ExtractTokenFromHeader(authorization)
	refreshed, err := s.auth.RefreshToken(ctx, token)
	if err != nil {
		var authErr *service.AuthError
		if errors.As(err, &authErr) {
			return nil, authErr.AppError().
				WithDetails(string(authErr.Reason)).
				WithContext(ctx).
				ToGRPCErr()
		}
		return nil, s.internal(ctx, err)
	}

	return wrapperspb.String(refreshed), nil
}

func (s *tokenService) internal(ctx context.Context, err error) error {
	s.log.Error("Token service call failed", logger.CtxField(ctx), logger.Error(err))
	return apperrors.New(apperrors.ErrInternal, "Internal error").ToGRPCErr()
}
