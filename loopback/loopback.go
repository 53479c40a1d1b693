// Package loopback captures an OAuth2 redirect on a localhost listener
// while the user completes the interactive leg in their browser.
package loopback

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Result is the redirected request received on the loopback listener.
type Result struct {
	// RedirectURI is the loopback URI actually listened on. It differs from
	// the requested one when an ephemeral port was assigned.
	RedirectURI string

	// Query carries the redirect's query parameters (code, state, error).
	Query url.Values
}

// Filter decides whether a request received on the listener is the
// expected redirect. Unmatched requests are answered 404 and the wait
// continues. A nil filter accepts the first request on the redirect path.
type Filter func(r *http.Request) bool

// Browser performs the interactive authorization leg: direct the user to
// target and wait for the authorization server to redirect back to the
// loopback address.
type Browser interface {
	GetLoopback(ctx context.Context, target, loopbackURI string, filter Filter, timeout time.Duration) (Result, error)
}

// OpenFunc launches the system browser at a URL.
type OpenFunc func(url string) error

// LocalBrowser implements Browser with a localhost HTTP listener and the
// operating system's URL opener.
type LocalBrowser struct {
	// Open launches the browser. Nil defaults to the platform opener.
	Open OpenFunc
}

// GetLoopback binds a listener at loopbackURI, opens the target URL in the
// browser and blocks until the matching redirect arrives, the timeout
// elapses or the context is cancelled. A port of 0 in loopbackURI binds an
// ephemeral port; the target URL is rewritten so its embedded redirect URI
// matches the bound address.
func (b *LocalBrowser) GetLoopback(ctx context.Context, target, loopbackURI string, filter Filter, timeout time.Duration) (Result, error) {
	redirect, err := url.Parse(loopbackURI)
	if err != nil {
		return Result{}, fmt.Errorf("malformed loopback URI %q: %w", loopbackURI, err)
	}

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return Result{}, fmt.Errorf("binding loopback listener: %w", err)
	}
	defer listener.Close()

	// rebase the redirect URI onto the bound address: with an ephemeral
	// port, the URL the authorization server redirects to must name the
	// port that was actually assigned
	bound := *redirect
	bound.Host = listener.Addr().String()
	actualURI := bound.String()

	target = strings.ReplaceAll(target, url.QueryEscape(loopbackURI), url.QueryEscape(actualURI))

	if filter == nil {
		filter = func(r *http.Request) bool { return r.URL.Path == redirect.Path }
	}

	received := make(chan Result, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !filter(r) {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>Sign-in complete. You can close this window.</body></html>")

		select {
		case received <- Result{RedirectURI: actualURI, Query: r.URL.Query()}:
		default:
		}
	})
	server := &http.Server{Handler: otelhttp.NewHandler(handler, "loopback.redirect")}
	defer server.Close()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Debug().Err(err).Msg("loopback listener stopped")
		}
	}()

	open := b.Open
	if open == nil {
		open = openSystemBrowser
	}
	if err := open(target); err != nil {
		return Result{}, fmt.Errorf("opening browser: %w", err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case result := <-received:
		return result, nil
	case <-ctx.Done():
		return Result{}, fmt.Errorf("waiting for authorization redirect: %w", ctx.Err())
	}
}

// openSystemBrowser launches the platform URL handler.
func openSystemBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
