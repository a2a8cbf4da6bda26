package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// RunServer serves until ctx is cancelled, then drains in-flight requests
// with a 10s grace period. It blocks for the lifetime of the server.
func RunServer(ctx context.Context, logger *slog.Logger, srv *http.Server) {
	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
