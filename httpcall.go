package proxywasm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// PendingHttpCall is the host-side record of one in-flight proxy_http_call,
// per spec §3/§4.6. At most one may exist per instance at a time; the host
// drains it before resuming the guest.
type PendingHttpCall struct {
	Token        uint32
	Upstream     string
	Headers      HeaderMap // may include pseudo-headers :method/:path/:scheme/:authority
	Body         []byte
	TimeoutMillis uint32
}

// HttpCallResponse is the result of draining a PendingHttpCall, stashed so
// the guest can read it back through the http-call-response header/buffer
// identifiers (spec §4.7's PAUSE loop).
type HttpCallResponse struct {
	Headers HeaderMap
	Trailers HeaderMap
	Body    []byte
	Failed  bool
}

// pseudoHeaderNames are stripped before a pending call is sent over real
// HTTP/1.1, per the glossary's "never forwarded on HTTP/1.1 egress".
var pseudoHeaderNames = map[string]bool{
	":method": true, ":path": true, ":scheme": true, ":authority": true,
}

// TokenAllocator hands out strictly increasing tokens starting at 0 for one
// instance's lifetime, per spec §8's monotonicity invariant.
type TokenAllocator struct {
	mu   sync.Mutex
	next uint32
}

// Next returns the next token and advances the counter.
func (t *TokenAllocator) Next() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.next
	t.next++
	return v
}

// PortPool reserves source ports from a fixed range (8100-8199 per spec §5)
// for the duration of one outbound call, allocating sequentially with
// wrap-around to minimize collisions with recently released ports.
type PortPool struct {
	mu       sync.Mutex
	base     int
	size     int
	next     int
	reserved map[int]bool
}

// NewPortPool builds the default 8100-8199 pool.
func NewPortPool() *PortPool {
	return &PortPool{base: 8100, size: 100, reserved: map[int]bool{}}
}

// Acquire reserves and returns a port, or an error if the whole range is
// currently in use.
func (p *PortPool) Acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < p.size; i++ {
		candidate := p.base + (p.next+i)%p.size
		if !p.reserved[candidate] {
			p.reserved[candidate] = true
			p.next = (p.next + i + 1) % p.size
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("port pool exhausted: all %d ports in [%d,%d) reserved", p.size, p.base, p.base+p.size)
}

// Release returns a port to the pool.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reserved, port)
}

// OutboundDispatcher performs the real HTTP request behind a drained
// PendingHttpCall, reserving a local source port for the call's duration so
// the runner's outbound connections stay within a bounded, predictable
// range (spec §5).
type OutboundDispatcher struct {
	Ports *PortPool
}

// NewOutboundDispatcher builds a dispatcher backed by its own port pool.
func NewOutboundDispatcher() *OutboundDispatcher {
	return &OutboundDispatcher{Ports: NewPortPool()}
}

// Dispatch sends call honoring its pseudo-headers, enforces its timeout,
// and returns the captured response. Network/timeout failures yield a
// Failed response rather than an error -- the guest always gets resumed
// (spec §4.7, §7 OUTBOUND_FETCH_TIMEOUT/OUTBOUND_FETCH_NETWORK).
func (d *OutboundDispatcher) Dispatch(ctx context.Context, call *PendingHttpCall) *HttpCallResponse {
	method, _ := call.Headers.Get(":method")
	if method == "" {
		method = http.MethodGet
	}
	path, _ := call.Headers.Get(":path")
	if path == "" {
		path = "/"
	}
	scheme, _ := call.Headers.Get(":scheme")
	if scheme == "" {
		scheme = "http"
	}
	authority, _ := call.Headers.Get(":authority")
	if authority == "" {
		authority = call.Upstream
	}
	if authority == "" {
		authority = call.Upstream
	}

	target := fmt.Sprintf("%s://%s%s", scheme, authority, path)

	var body io.Reader
	if len(call.Body) > 0 {
		body = bytes.NewReader(call.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return &HttpCallResponse{Failed: true}
	}
	call.Headers.Range(func(k, v string) {
		if pseudoHeaderNames[k] {
			return
		}
		req.Header.Set(k, v)
	})

	port, perr := d.Ports.Acquire()
	timeout := time.Duration(call.TimeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}
	if perr == nil {
		defer d.Ports.Release(port)
		if laddr, rerr := net.ResolveTCPAddr("tcp", fmt.Sprintf(":%d", port)); rerr == nil {
			dialer.LocalAddr = laddr
		}
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{DialContext: dialer.DialContext},
	}

	resp, err := client.Do(req)
	if err != nil {
		return &HttpCallResponse{Failed: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &HttpCallResponse{Failed: true}
	}

	headers := NewHeaderMap()
	for k, vs := range resp.Header {
		headers.Set(k, strings.Join(vs, ","))
	}
	headers.Set(":status", fmt.Sprintf("%d", resp.StatusCode))

	return &HttpCallResponse{Headers: headers, Trailers: NewHeaderMap(), Body: raw}
}
