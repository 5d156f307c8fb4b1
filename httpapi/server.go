package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Serve runs handler on addr until ctx is cancelled, then drains in-flight
// requests.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
