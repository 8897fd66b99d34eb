// Package safehttp provides HTTP transports that refuse to reach internal
// networks, for webhook plugins pointed at untrusted URLs.
package safehttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// NewTransport returns a transport that rejects connections to loopback,
// private and link-local addresses. The check runs on the connected remote
// address so DNS rebinding cannot bypass it.
func NewTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: 5 * time.Second}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		if err := CheckIP(net.ParseIP(host)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return conn, nil
	}
	return t
}

// CheckIP reports an error for addresses a webhook must not reach.
func CheckIP(ip net.IP) error {
	if ip == nil {
		return fmt.Errorf("unparseable remote address")
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return fmt.Errorf("access to private IP %s is denied", ip)
	}
	return nil
}
