package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/pflag"

	"github.com/campusride/livelocation/internal/config"
	"github.com/campusride/livelocation/internal/feed"
	"github.com/campusride/livelocation/internal/storage"
	"github.com/campusride/livelocation/internal/subscription"
	"github.com/campusride/livelocation/internal/trip"
)

// RelayPath is where the websocket relay is mounted.
const RelayPath = "/ws"

func feedFlags(fs *pflag.FlagSet) {
	fs.String("listen", "", "listen address, overrides feed.listen")
}

// observeAll fans a relayed frame out to every observer.
func observeAll(observers ...subscription.ObserveFunc) subscription.ObserveFunc {
	return func(channelName string, data []byte) {
		for _, o := range observers {
			o(channelName, data)
		}
	}
}

func newServeMux(relay http.Handler, feedHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(RelayPath, relay)
	mux.Handle(feed.Path, feedHandler)
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func runFeed(ctx context.Context, fs *pflag.FlagSet) error {
	cfg := config.GetFeedConfig()
	if listen, _ := fs.GetString("listen"); listen != "" {
		cfg.Listen = listen
	}

	backend, err := openStorage()
	if err != nil {
		return err
	}

	trips := trip.NewContext()
	relay := subscription.NewRelay(Logger.With("component", "relay"), observeAll(
		storage.Observer(backend, Logger.With("component", "storage")),
		trip.Observer(trips),
	))
	defer relay.Close()

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: newServeMux(relay, &feed.Handler{
			Source: backend,
			Trips:  trips,
			MaxAge: cfg.MaxAge,
			Logger: Logger.With("component", "feed"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		Logger.Info("Serving relay and feed", "addr", cfg.Listen, "relay", RelayPath, "feed", feed.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	Logger.Info("Shutting down server")
	return srv.Shutdown(shutdownCtx)
}
