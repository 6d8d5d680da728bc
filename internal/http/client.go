// Package http builds the HTTP clients shared by the API client and the
// remote datastack backends.
package http

import (
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"os"
	"strings"

	"golang.org/x/net/http2"

	"github.com/rescale/modelbench/internal/config"
	"github.com/rescale/modelbench/internal/constants"
)

// NewClient creates an HTTP client with the proxy settings of cfg.
//
// Key features:
//   - Proxy modes no-proxy, system and basic, with a NO_PROXY style bypass list
//   - HTTP/2 with runtime toggle (DISABLE_HTTP2 env var), off behind a proxy
//   - No overall timeout; callers bound each request with a context
//
// If cfg is nil, proxy settings are read from the environment.
func NewClient(cfg *config.ServerSettings) (*nethttp.Client, error) {
	tr := &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
		ForceAttemptHTTP2:     true,
	}

	mode := "system"
	if cfg != nil && cfg.ProxyMode != "" {
		mode = strings.ToLower(cfg.ProxyMode)
	}

	proxyActive := false
	switch mode {
	case "no-proxy":
		tr.Proxy = nil
	case "system":
		tr.Proxy = nethttp.ProxyFromEnvironment
		proxyActive = envProxySet()
	case "basic":
		proxy, err := ProxyFunc(cfg.ProxyURL, cfg.NoProxy)
		if err != nil {
			return nil, err
		}
		tr.Proxy = proxy
		proxyActive = true
	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", mode)
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, fmt.Errorf("failed to configure HTTP/2: %w", err)
	}

	// Proxies often break HTTP/2 multiplexing. FORCE_HTTP2=true keeps it on.
	if os.Getenv("DISABLE_HTTP2") == "true" || (proxyActive && os.Getenv("FORCE_HTTP2") != "true") {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	return &nethttp.Client{Transport: tr}, nil
}

func envProxySet() bool {
	for _, k := range []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy"} {
		if os.Getenv(k) != "" {
			return true
		}
	}
	return false
}
