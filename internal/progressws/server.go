package progressws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const (
	// Path is the websocket endpoint.
	Path = "/ws"

	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Serve runs hub and an HTTP server for it on listener until ctx is canceled. After
// a cancellation it returns once the hub has delivered its queued messages.
func Serve(ctx context.Context, listener net.Listener, hub *Hub) error {
	mux := http.NewServeMux()
	mux.Handle(Path, hub)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go hub.Run(ctx)

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()

	hub.log.Info("Progress stream listening on ws://%s%s", listener.Addr(), Path)

	err := server.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("progress server failed: %w", err)
	}

	<-hub.stopped

	return nil
}
