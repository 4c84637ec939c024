package peloton

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/pedal-for-me/peloton-cli/internal/config"
	tls "github.com/refraction-networking/utls"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// browserTransport is an http.RoundTripper that speaks HTTP/2 over a uTLS
// handshake presenting a Firefox fingerprint. Auth0 fronts its login pages
// with bot detection that can reject Go's default TLS ClientHello; a browser
// fingerprint lets the flow through. The login flow is strictly sequential,
// so the connection cache only needs coarse locking.
type browserTransport struct {
	mu     sync.Mutex
	conns  map[string]*http2.ClientConn
	dialer proxy.Dialer
}

// newBrowserTransport creates the uTLS round tripper, honoring the proxy-url
// configuration when present.
func newBrowserTransport(cfg *config.Config) *browserTransport {
	var dialer proxy.Dialer = proxy.Direct
	if cfg != nil && cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			log.Errorf("failed to parse proxy URL %q: %v", cfg.ProxyURL, err)
		} else if pDialer, errDialer := proxy.FromURL(proxyURL, proxy.Direct); errDialer != nil {
			log.Errorf("failed to create proxy dialer for %q: %v", cfg.ProxyURL, errDialer)
		} else {
			dialer = pDialer
		}
	}
	return &browserTransport{
		conns:  make(map[string]*http2.ClientConn),
		dialer: dialer,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	hostname := req.URL.Hostname()
	addr := req.URL.Host
	if req.URL.Port() == "" {
		addr += ":443"
	}

	conn, err := t.conn(hostname, addr)
	if err != nil {
		return nil, err
	}

	resp, err := conn.RoundTrip(req)
	if err != nil {
		t.evict(hostname, conn)
		return nil, err
	}
	return resp, nil
}

// conn returns a cached HTTP/2 connection for the host or dials a new one
// with the Firefox ClientHello.
func (t *browserTransport) conn(hostname, addr string) (*http2.ClientConn, error) {
	t.mu.Lock()
	if cached, ok := t.conns[hostname]; ok && cached.CanTakeNewRequest() {
		t.mu.Unlock()
		return cached, nil
	}
	t.mu.Unlock()

	rawConn, err := t.dialer.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	tlsConn := tls.UClient(rawConn, &tls.Config{ServerName: hostname}, tls.HelloFirefox_Auto)
	if err = tlsConn.Handshake(); err != nil {
		_ = rawConn.Close()
		return nil, err
	}

	h2Conn, err := (&http2.Transport{}).NewClientConn(tlsConn)
	if err != nil {
		_ = tlsConn.Close()
		return nil, err
	}

	t.mu.Lock()
	t.conns[hostname] = h2Conn
	t.mu.Unlock()
	return h2Conn, nil
}

// evict drops a dead connection from the cache.
func (t *browserTransport) evict(hostname string, conn *http2.ClientConn) {
	t.mu.Lock()
	if cached, ok := t.conns[hostname]; ok && cached == conn {
		delete(t.conns, hostname)
	}
	t.mu.Unlock()
}
