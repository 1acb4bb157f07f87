package oauth

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// maxRequestLine bounds the first request line; anything longer is garbage.
	maxRequestLine = 8192
	// connReadTimeout bounds how long a candidate connection may take to
	// deliver its request line before it is dropped.
	connReadTimeout = 10 * time.Second
	// connWriteTimeout bounds response delivery on any connection.
	connWriteTimeout = 10 * time.Second
)

// RedirectListener is the loopback endpoint the authorization server redirects
// the user's browser to. It binds an ephemeral TCP port on the loopback
// interfaces only, tolerates arbitrary garbage connections, and delivers
// exactly one state-matching redirect.
//
// The listener never mutates flow state itself; it only compares the state
// query parameter against the expected value and hands the winning
// {code, state} pair to the coordinator.
type RedirectListener struct {
	expectedState string

	lns        []net.Listener
	redirectCh chan *Redirect

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	won     bool
	closed  bool
	started bool
}

// Redirect is the winning browser connection. The underlying socket is held
// open until one of the Respond methods delivers the flow's final answer,
// which may be long after the redirect arrived.
type Redirect struct {
	// Code is the authorization code extracted from the redirect query.
	Code string
	// State is the echoed state nonce; it matched the expected value.
	State string

	conn        net.Conn
	peerClosed  atomic.Bool
	responded   atomic.Bool
	respondOnce sync.Once
}

// NewRedirectListener creates a listener that accepts only redirects carrying
// expectedState.
func NewRedirectListener(expectedState string) *RedirectListener {
	return &RedirectListener{
		expectedState: expectedState,
		redirectCh:    make(chan *Redirect, 1),
		conns:         make(map[net.Conn]struct{}),
	}
}

// Start binds an ephemeral port on the loopback interfaces and begins
// accepting connections. The port is never reachable from other hosts.
func (l *RedirectListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return fmt.Errorf("redirect listener already started")
	}

	// Bind the IPv4 loopback first to fix the port, then mirror the bind on
	// the IPv6 loopback so the browser reaches the port whichever address
	// localhost resolves to.
	ln4, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to bind redirect listener: %w", err)
	}
	l.lns = []net.Listener{ln4}
	port := ln4.Addr().(*net.TCPAddr).Port
	if ln6, err6 := net.Listen("tcp", fmt.Sprintf("[::1]:%d", port)); err6 == nil {
		l.lns = append(l.lns, ln6)
	} else {
		log.Debugf("redirect listener: IPv6 loopback unavailable: %v", err6)
	}
	l.started = true

	for _, ln := range l.lns {
		go l.acceptLoop(ln)
	}

	log.Debugf("redirect listener bound on loopback port %d", port)
	return nil
}

// Port returns the ephemeral port the listener is bound to.
func (l *RedirectListener) Port() int {
	if len(l.lns) == 0 {
		return 0
	}
	return l.lns[0].Addr().(*net.TCPAddr).Port
}

// Redirect returns the channel on which the single winning redirect is
// delivered.
func (l *RedirectListener) Redirect() <-chan *Redirect {
	return l.redirectCh
}

// Close stops accepting and tears down every candidate connection. The winning
// connection, if one was already delivered, stays open; its lifecycle belongs
// to the Redirect.
func (l *RedirectListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	var err error
	for _, ln := range l.lns {
		if cerr := ln.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	for conn := range l.conns {
		_ = conn.Close()
	}
	l.conns = make(map[net.Conn]struct{})
	return err
}

func (l *RedirectListener) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Listener closed, either by the winning redirect or teardown.
			return
		}
		l.mu.Lock()
		if l.closed || l.won {
			l.mu.Unlock()
			_ = conn.Close()
			continue
		}
		l.conns[conn] = struct{}{}
		l.mu.Unlock()
		go l.handleConn(conn)
	}
}

// handleConn parses one candidate connection. Anything that is not a
// well-formed request line carrying the expected state is disposed of locally
// and never reaches the coordinator.
func (l *RedirectListener) handleConn(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(connReadTimeout))

	reader := bufio.NewReaderSize(conn, maxRequestLine)
	line, err := reader.ReadSlice('\n')
	if err != nil {
		// Truncated, peer gone, or past the line cap without a newline
		// (bufio.ErrBufferFull); a peer streaming an endless line is cut
		// off at maxRequestLine bytes instead of being buffered.
		l.dropConn(conn)
		return
	}

	code, state, ok := parseRequestLine(strings.TrimRight(string(line), "\r\n"))
	if !ok {
		log.Debug("redirect listener: discarding malformed request")
		l.dropConn(conn)
		return
	}
	if code == "" || state != l.expectedState {
		log.Debug("redirect listener: ignoring request without matching state")
		l.respondNotFound(conn)
		return
	}

	l.mu.Lock()
	if l.won || l.closed {
		l.mu.Unlock()
		_ = conn.Close()
		return
	}
	l.won = true
	delete(l.conns, conn)
	// Stop accepting: the winner is decided, later connections are no-ops.
	for _, ln := range l.lns {
		_ = ln.Close()
	}
	l.mu.Unlock()

	redirect := &Redirect{Code: code, State: state, conn: conn}
	go redirect.watchPeer()
	l.redirectCh <- redirect
}

// parseRequestLine extracts code and state query parameters from a single
// "METHOD SP TARGET SP VERSION" line. ok is false when the line cannot be
// parsed as a request line at all.
func parseRequestLine(line string) (code, state string, ok bool) {
	method, rest, found := strings.Cut(line, " ")
	if !found || method == "" {
		return "", "", false
	}
	target, version, found := strings.Cut(rest, " ")
	if !found || target == "" || version == "" {
		return "", "", false
	}
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return "", "", false
	}
	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return "", "", false
	}
	return query.Get("code"), query.Get("state"), true
}

// dropConn closes a connection without any response.
func (l *RedirectListener) dropConn(conn net.Conn) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
	_ = conn.Close()
}

// respondNotFound answers a parseable but non-matching request and closes it.
func (l *RedirectListener) respondNotFound(conn net.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(connWriteTimeout))
	_, _ = conn.Write(rawResponse(http.StatusNotFound, nil, "Not Found"))
	l.dropConn(conn)
}

// watchPeer observes the held connection so a browser that goes away before
// the final response is detected as a cancellation instead of a write fault.
func (r *Redirect) watchPeer() {
	_ = r.conn.SetReadDeadline(time.Time{})
	buf := make([]byte, 1024)
	for {
		if _, err := r.conn.Read(buf); err != nil {
			if !r.responded.Load() {
				r.peerClosed.Store(true)
				log.Debug("redirect listener: browser closed the held connection")
			}
			return
		}
	}
}

// RespondRedirect answers the held browser connection with a redirect to
// location and closes it.
func (r *Redirect) RespondRedirect(location string) error {
	headers := []string{"Location: " + location}
	return r.respond(rawResponse(http.StatusFound, headers, ""))
}

// RespondHTML answers the held browser connection with a 200 HTML page.
func (r *Redirect) RespondHTML(body string) error {
	headers := []string{"Content-Type: text/html; charset=utf-8"}
	return r.respond(rawResponse(http.StatusOK, headers, body))
}

// RespondError answers the held browser connection with an error status.
func (r *Redirect) RespondError(status int, message string) error {
	return r.respond(rawResponse(status, nil, message))
}

// respond delivers exactly one response. A connection already abandoned by its
// peer yields ErrBrowserClosed; the flow that owns the redirect treats that as
// a cancellation of the delivery only.
func (r *Redirect) respond(raw []byte) error {
	err := ErrBrowserClosed
	r.respondOnce.Do(func() {
		r.responded.Store(true)
		if r.peerClosed.Load() {
			_ = r.conn.Close()
			err = ErrBrowserClosed
			return
		}
		_ = r.conn.SetWriteDeadline(time.Now().Add(connWriteTimeout))
		if _, werr := r.conn.Write(raw); werr != nil {
			err = fmt.Errorf("%w: %v", ErrBrowserClosed, werr)
		} else {
			err = nil
		}
		_ = r.conn.Close()
	})
	return err
}

// rawResponse renders a minimal HTTP/1.1 response.
func rawResponse(status int, headers []string, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	for _, h := range headers {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\nConnection: close\r\n\r\n%s", len(body), body)
	return []byte(b.String())
}
