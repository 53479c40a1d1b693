// devicelogin demonstrates the device authorization flow end to end: it
// loads configuration from the environment, acquires a grant (from cache,
// refresh token or interactive device exchange) and prints the result.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chinmina/grantwell/config"
	"github.com/chinmina/grantwell/discovery"
	"github.com/chinmina/grantwell/flow"
	"github.com/chinmina/grantwell/grant"
	"github.com/chinmina/grantwell/observe"
	"github.com/chinmina/grantwell/securecache"
	"github.com/chinmina/grantwell/tokencache"
)

func main() {
	configureLogging()

	logBuildInfo()

	err := run()
	if err != nil {
		log.Fatal().Err(err).Msg("device login failed")
	}
}

func run() error {
	// Ctrl-C interrupts the poll loop cleanly
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn().Err(err).Msg("telemetry: shutdown failed")
		}
	}()

	store, err := securecache.NewFromConfig(ctx, cfg.Cache, time.Hour, 10_000)
	if err != nil {
		return fmt.Errorf("cache configuration failed: %w", err)
	}
	defer store.Close()

	tokens, err := tokencache.New(store)
	if err != nil {
		return fmt.Errorf("token cache configuration failed: %w", err)
	}

	clients := flow.DefaultHTTPClientProvider{}
	httpClient, err := clients.HTTPClient(ctx)
	if err != nil {
		return fmt.Errorf("http client configuration failed: %w", err)
	}

	policy := discovery.DefaultPolicy()
	policy.RequireHTTPS = cfg.Policy.RequireHTTPS
	dc := discovery.NewCache(httpClient, store, policy)

	// the refresh-token flow shares the token cache, so a cached refresh
	// token short-circuits the interactive exchange on later runs
	base := flow.NewService(cfg, clients, flow.WithTokenCache(tokens), flow.WithDiscovery(dc))
	refresher := flow.NewRefreshToken(base, nil)

	svc := flow.NewService(cfg, clients,
		flow.WithTokenCache(tokens),
		flow.WithDiscovery(dc),
		flow.WithRefresher(refresher),
	)

	device := flow.NewDeviceCode(svc)

	result := device.Acquire(ctx, grant.DefaultOptions(), promptUser)
	if !result.Succeeded() {
		if result.Cancelled() {
			return fmt.Errorf("login interrupted")
		}
		return fmt.Errorf("grant acquisition failed: %s", result.Message())
	}

	g := result.Value()

	ev := log.Info().Str("accessToken", redact(g.AccessToken()))
	if expires := g.Expires(); !expires.IsZero() {
		ev = ev.Time("expires", expires)
	}
	if g.RefreshToken() != "" {
		ev = ev.Bool("refreshTokenCached", true)
	}
	ev.Msg("grant acquired")

	return nil
}

// promptUser writes the verification instructions to stdout, keeping them
// apart from the structured log stream.
func promptUser(ctx context.Context, auth flow.DeviceAuthorization) error {
	if auth.VerificationURIComplete != "" {
		fmt.Printf("\nVisit %s to approve this device.\n", auth.VerificationURIComplete)
	} else {
		fmt.Printf("\nVisit %s and enter the code %s to approve this device.\n",
			auth.VerificationURI, auth.UserCode)
	}
	fmt.Printf("Waiting for approval (expires in %s)...\n\n", auth.ExpiresIn.Duration())
	return nil
}

// redact keeps enough of the token to correlate with server logs without
// printing the credential.
func redact(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to
	// be configured separately. However, it means that any logger that sets
	// its level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}
