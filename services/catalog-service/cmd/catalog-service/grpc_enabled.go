//go:build protogen

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/roamly/roamly/libs/config"
	"github.com/roamly/roamly/libs/db"
	"github.com/roamly/roamly/libs/grpcx"
	"github.com/roamly/roamly/services/catalog-service/internal/grpcserver"
	"github.com/roamly/roamly/services/catalog-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

// startGrpcServer exposes the slot feed to sibling services. Build with
// -tags protogen after generating the protos.
func startGrpcServer(ctx context.Context, logger *slog.Logger, pool *db.Pool, repo *storage.Repository) error {
	port, err := config.Port("GRPC_PORT", "9090")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerRequestIDInterceptor()),
	)
	grpcserver.Register(srv, pool, repo)

	go serveUntilDone(ctx, logger, srv, lis)
	return nil
}

func serveUntilDone(ctx context.Context, logger *slog.Logger, srv *grpc.Server, lis net.Listener) {
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	logger.Info("grpc server starting", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil {
		logger.Error("grpc server error", "err", err)
	}
}
