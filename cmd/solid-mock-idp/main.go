package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gematik/solid-session/pkg/idptest"
	"github.com/gematik/solid-session/pkg/prettylog"
	"github.com/gematik/solid-session/pkg/util"
	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()

	if os.Getenv("PRETTY_LOGS") != "false" {
		logger := slog.New(prettylog.NewHandler(slog.LevelDebug))
		slog.SetDefault(logger)
	}

	addr := flag.String("addr", util.GetEnv("MOCK_IDP_ADDR", "127.0.0.1:8090"), "listen address")
	webID := flag.String("webid", os.Getenv("MOCK_IDP_WEBID"), "WebID every login is approved for")
	ttl := flag.Duration("access-token-ttl", 5*time.Minute, "access token lifetime")
	flag.Parse()

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatal(err)
	}

	opts := []idptest.Option{
		idptest.WithLogger(slog.Default()),
		idptest.WithAccessTokenTTL(*ttl),
	}
	if *webID != "" {
		opts = append(opts, idptest.WithWebID(*webID))
	}

	provider, err := idptest.New("http://"+listener.Addr().String()+"/", opts...)
	if err != nil {
		log.Fatal(err)
	}

	server := &http.Server{Handler: provider.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("Starting mock identity provider", "issuer", provider.Issuer(), "webid", provider.WebID())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
