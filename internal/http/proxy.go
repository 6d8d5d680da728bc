package http

import (
	"fmt"
	nethttp "net/http"
	"net/url"

	"golang.org/x/net/http/httpproxy"
)

// ProxyFunc returns a Transport.Proxy function sending every request through
// proxyURL except hosts matched by noProxy (same syntax as NO_PROXY).
func ProxyFunc(proxyURL, noProxy string) (func(*nethttp.Request) (*url.URL, error), error) {
	if proxyURL == "" {
		return nil, fmt.Errorf("proxy mode is basic but no proxy URL is set")
	}
	u, err := url.Parse(proxyURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy URL %q", proxyURL)
	}
	if noProxy == "" {
		return nethttp.ProxyURL(u), nil
	}
	cfg := httpproxy.Config{
		HTTPProxy:  u.String(),
		HTTPSProxy: u.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := cfg.ProxyFunc()
	return func(req *nethttp.Request) (*url.URL, error) {
		return proxyFunc(req.URL)
	}, nil
}
