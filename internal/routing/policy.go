// Package routing decides, once per fetch, whether a URL goes through the
// configured proxy or directly, and owns the shared HTTP clients for both
// paths. Call sites never branch on raw proxy config flags.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/proxy"

	"feedhub/internal/config"
)

// ConnType labels a connection for per-connection-type proxy routing.
type ConnType string

// Connection types consulted by UseProxyFor.
const (
	ConnIRC     ConnType = "irc"
	ConnHTTP    ConnType = "http"
	ConnMatrix  ConnType = "matrix"
	ConnDiscord ConnType = "discord"
)

// Policy is the single routing decision point for outbound connections.
type Policy struct {
	mode      config.ProxyMode
	whitelist []string
	perConn   map[ConnType]bool

	direct  *http.Client
	proxied *http.Client
}

// NewPolicy builds the policy and both shared clients from configuration.
// An unsupported proxy type degrades to direct connections.
func NewPolicy(cfg *config.Config, log *slog.Logger) *Policy {
	p := &Policy{
		mode:      cfg.Mode(),
		whitelist: lowered(cfg.ProxyWhitelist),
		perConn: map[ConnType]bool{
			ConnIRC:     cfg.ProxyIRC,
			ConnHTTP:    cfg.ProxyHTTP,
			ConnMatrix:  cfg.ProxyMatrix,
			ConnDiscord: cfg.ProxyDiscord,
		},
		direct:  &http.Client{},
		proxied: &http.Client{},
	}

	if p.mode == config.ProxyOff {
		p.proxied = p.direct
		return p
	}

	transport, err := proxyTransport(cfg)
	if err != nil {
		log.Error("build proxy transport, falling back to direct", "error", err)
		p.proxied = p.direct
		return p
	}
	p.proxied = &http.Client{Transport: transport}
	log.Info("proxy transport ready",
		"type", cfg.ProxyType, "host", cfg.ProxyHost, "port", cfg.ProxyPort)
	return p
}

// Whitelisted reports whether the URL's domain (or a parent domain) is on the
// proxy bypass whitelist.
func (p *Policy) Whitelisted(rawURL string) bool {
	if len(p.whitelist) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range p.whitelist {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// Proxied reports whether a feed fetch for the URL must use the proxy client.
// Whitelisted domains always bypass the proxy.
func (p *Policy) Proxied(rawURL string) bool {
	if p.mode == config.ProxyOff || p.Whitelisted(rawURL) {
		return false
	}
	if p.mode == config.ProxyFeedsOnly {
		return true
	}
	return p.perConn[ConnHTTP]
}

// UseProxyFor reports whether a non-feed connection of the given type should
// be proxied under the current mode.
func (p *Policy) UseProxyFor(conn ConnType) bool {
	switch p.mode {
	case config.ProxyOff:
		return false
	case config.ProxyFeedsOnly:
		return conn == ConnHTTP
	default:
		return p.perConn[conn]
	}
}

// Client returns the shared HTTP client for the given routing decision.
func (p *Policy) Client(proxied bool) *http.Client {
	if proxied {
		return p.proxied
	}
	return p.direct
}

func proxyTransport(cfg *config.Config) (*http.Transport, error) {
	addr := net.JoinHostPort(cfg.ProxyHost, fmt.Sprint(cfg.ProxyPort))

	switch strings.ToLower(cfg.ProxyType) {
	case "socks5":
		var auth *proxy.Auth
		if cfg.ProxyUsername != "" {
			auth = &proxy.Auth{User: cfg.ProxyUsername, Password: cfg.ProxyPassword}
		}
		dialer, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
		return &http.Transport{DialContext: contextDial(dialer)}, nil

	case "http", "https":
		proxyURL := &url.URL{Scheme: strings.ToLower(cfg.ProxyType), Host: addr}
		if cfg.ProxyUsername != "" {
			proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
		}
		return &http.Transport{Proxy: http.ProxyURL(proxyURL)}, nil

	default:
		return nil, fmt.Errorf("unsupported proxy type %q", cfg.ProxyType)
	}
}

func contextDial(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}
}

func lowered(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}
