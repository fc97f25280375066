package httpclient

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	PreferIPv4 bool
	Timeout    time.Duration
	Logger     *zerolog.Logger
}

func New(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}

	dialer := &net.Dialer{
		Timeout:   15 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if opts.PreferIPv4 {
				return dialer.DialContext(ctx, "tcp4", addr)
			}
			return dialer.DialContext(ctx, network, addr)
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	var rt http.RoundTripper = transport
	if opts.Logger != nil {
		rt = &loggingTransport{next: transport, logger: *opts.Logger}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: rt,
	}
}

// loggingTransport records one debug line per outbound call. Query strings are
// dropped and Telegram bot tokens are masked.
type loggingTransport struct {
	next   http.RoundTripper
	logger zerolog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)

	ev := t.logger.Debug().
		Str("method", req.Method).
		Str("host", req.URL.Host).
		Str("path", redactPath(req.URL.Path)).
		Dur("dur", time.Since(start))
	if err != nil {
		ev.Err(err).Msg("outbound request failed")
		return nil, err
	}
	ev.Int("status", resp.StatusCode).Msg("outbound request")
	return resp, nil
}

func redactPath(path string) string {
	for _, prefix := range []string{"/bot", "/file/bot"} {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := path[len(prefix):]
		if i := strings.Index(rest, "/"); i >= 0 {
			return prefix + "***" + rest[i:]
		}
		return prefix + "***"
	}
	return path
}
