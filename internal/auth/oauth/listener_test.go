package oauth

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestParseRequestLine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantOK    bool
		wantCode  string
		wantState string
	}{
		{"valid redirect", "GET /?code=abc&state=xyz HTTP/1.1", true, "abc", "xyz"},
		{"no query", "GET / HTTP/1.1", true, "", ""},
		{"code only", "GET /?code=abc HTTP/1.1", true, "abc", ""},
		{"extra params", "GET /?foo=1&code=abc&state=xyz&bar=2 HTTP/1.1", true, "abc", "xyz"},
		{"empty line", "", false, "", ""},
		{"one word", "GET", false, "", ""},
		{"two words", "GET /", false, "", ""},
		{"bad target", "GET FOFOFO HTTP 1/1", false, "", ""},
		{"null bytes target", "GET \x00\x00\x00 HTTP/1.1", false, "", ""},
		{"not a request at all", "\x00\x00\x00", false, "", ""},
		{"non-utf8 query", "GET /?code=\xc3\xa9l\xc3\xa9phant\xa5 HTTP", true, "\xc3\xa9l\xc3\xa9phant\xa5", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, state, ok := parseRequestLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
			if state != tt.wantState {
				t.Errorf("state = %q, want %q", state, tt.wantState)
			}
		})
	}
}

func startTestListener(t *testing.T, expectedState string) *RedirectListener {
	t.Helper()
	listener := NewRedirectListener(expectedState)
	if err := listener.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })
	return listener
}

func dialListener(t *testing.T, listener *RedirectListener) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", listener.Port()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestListenerBindsOnlyLoopback(t *testing.T) {
	listener := startTestListener(t, "expected-state")

	if len(listener.lns) == 0 {
		t.Fatal("listener holds no bound sockets")
	}
	for _, ln := range listener.lns {
		addr := ln.Addr().(*net.TCPAddr)
		if !addr.IP.IsLoopback() {
			t.Errorf("bound address %s is not a loopback address", addr)
		}
		if addr.Port != listener.Port() {
			t.Errorf("bound address %s is not on the shared port %d", addr, listener.Port())
		}
	}
}

func TestListenerCutsOffEndlessRequestLine(t *testing.T) {
	listener := startTestListener(t, "expected-state")

	conn := dialListener(t, listener)
	// Stream well past the request line cap without ever sending a newline.
	// The listener must drop the connection instead of buffering the stream.
	chunk := []byte(strings.Repeat("A", 4096))
	for written := 0; written < maxRequestLine*4; written += len(chunk) {
		if _, err := conn.Write(chunk); err != nil {
			break
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("connection stayed open past the request line cap")
	}

	// The cutoff must not poison the listener for the real redirect.
	winner := dialListener(t, listener)
	if _, err := winner.Write([]byte("GET /?code=abc&state=expected-state HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case redirect := <-listener.Redirect():
		if redirect.Code != "abc" {
			t.Errorf("code = %q, want abc", redirect.Code)
		}
		_ = redirect.RespondError(http.StatusGone, "done")
	case <-time.After(2 * time.Second):
		t.Fatal("redirect after oversized garbage was not delivered")
	}
}

func TestListenerAnswersMismatchWithNotFound(t *testing.T) {
	listener := startTestListener(t, "expected-state")

	conn := dialListener(t, listener)
	if _, err := conn.Write([]byte("GET /?code=abc&state=other HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	status, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if !strings.Contains(status, "404") {
		t.Errorf("status line = %q, want a 404", status)
	}

	// The mismatch must not consume the winning slot.
	select {
	case r := <-listener.Redirect():
		t.Fatalf("mismatching request delivered a redirect: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListenerHoldsWinningConnection(t *testing.T) {
	listener := startTestListener(t, "expected-state")

	conn := dialListener(t, listener)
	if _, err := conn.Write([]byte("GET /?code=abc&state=expected-state HTTP/1.1\r\nHost: localhost\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var redirect *Redirect
	select {
	case redirect = <-listener.Redirect():
	case <-time.After(2 * time.Second):
		t.Fatal("winning redirect was not delivered")
	}
	if redirect.Code != "abc" || redirect.State != "expected-state" {
		t.Fatalf("redirect = %+v, want code abc and the expected state", redirect)
	}

	// No response may be written until the flow decides the outcome.
	_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("listener answered the winning connection prematurely")
	}

	if err := redirect.RespondRedirect("owncloud://success"); err != nil {
		t.Fatalf("RespondRedirect: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	status, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if !strings.Contains(status, "302") {
		t.Errorf("status line = %q, want a 302", status)
	}
	var location string
	for {
		line, errRead := reader.ReadString('\n')
		if errRead != nil || strings.TrimSpace(line) == "" {
			break
		}
		if strings.HasPrefix(line, "Location: ") {
			location = strings.TrimSpace(strings.TrimPrefix(line, "Location: "))
		}
	}
	if location != "owncloud://success" {
		t.Errorf("Location = %q, want owncloud://success", location)
	}
}

func TestListenerPeerCloseIsCancellation(t *testing.T) {
	listener := startTestListener(t, "expected-state")

	conn := dialListener(t, listener)
	if _, err := conn.Write([]byte("GET /?code=abc&state=expected-state HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var redirect *Redirect
	select {
	case redirect = <-listener.Redirect():
	case <-time.After(2 * time.Second):
		t.Fatal("winning redirect was not delivered")
	}

	_ = conn.Close()
	// Give the peer watcher a moment to observe the close.
	time.Sleep(100 * time.Millisecond)

	err := redirect.RespondHTML(LoginSuccessHTML)
	if !errors.Is(err, ErrBrowserClosed) {
		t.Errorf("respond after peer close = %v, want ErrBrowserClosed", err)
	}
}

func TestListenerStopsAcceptingAfterWin(t *testing.T) {
	listener := startTestListener(t, "expected-state")

	conn := dialListener(t, listener)
	if _, err := conn.Write([]byte("GET /?code=abc&state=expected-state HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var redirect *Redirect
	select {
	case redirect = <-listener.Redirect():
	case <-time.After(2 * time.Second):
		t.Fatal("winning redirect was not delivered")
	}
	defer func() { _ = redirect.RespondError(http.StatusGone, "done") }()

	// Once the winner is in, the port must be closed to newcomers.
	deadline := time.Now().Add(2 * time.Second)
	for {
		late, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", listener.Port()))
		if err != nil {
			break
		}
		// Accept may race the close; a connection that gets through must be
		// dropped without becoming a second winner.
		_, _ = late.Write([]byte("GET /?code=late&state=expected-state HTTP/1.1\r\n\r\n"))
		_ = late.Close()
		if time.Now().After(deadline) {
			t.Fatal("listener kept accepting after the winning redirect")
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case r := <-listener.Redirect():
		t.Fatalf("second redirect delivered after the win: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListenerSurvivesGarbageThenMatches(t *testing.T) {
	listener := startTestListener(t, "expected-state")

	for _, payload := range [][]byte{
		[]byte("GET FOFOFO HTTP 1/1\n\n"),
		{0, 0, 0},
		[]byte("\n\n\n\n"),
	} {
		conn := dialListener(t, listener)
		if _, err := conn.Write(payload); err != nil {
			t.Fatalf("garbage write: %v", err)
		}
		_ = conn.Close()
	}

	conn := dialListener(t, listener)
	if _, err := conn.Write([]byte("GET /?code=abc&state=expected-state HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case redirect := <-listener.Redirect():
		if redirect.Code != "abc" {
			t.Errorf("code = %q, want abc", redirect.Code)
		}
		_ = redirect.RespondError(http.StatusGone, "done")
	case <-time.After(2 * time.Second):
		t.Fatal("redirect after garbage was not delivered")
	}
}
