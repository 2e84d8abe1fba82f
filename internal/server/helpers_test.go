package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/relaychat/internal/broker"
	"github.com/Tyrowin/relaychat/internal/config"
	"github.com/Tyrowin/relaychat/internal/logger"
	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/Tyrowin/relaychat/internal/server"
)

const (
	testOrigin = "http://localhost:8081"
	settle     = 50 * time.Millisecond
)

type testEnv struct {
	broker  *broker.Broker
	server  *server.Server
	tcpAddr string
	httpURL string
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.AllowedOrigins = []string{testOrigin}
	cfg.MaxMessageLength = 10
	cfg.IdentifyTimeout = time.Second
	return cfg
}

// startTestEnv runs a broker, a TCP listener and an HTTP test server. All of
// them are stopped when the test ends.
func startTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()

	log := logger.Discard()
	b := broker.New(
		broker.WithLogger(log),
		broker.WithFilters(broker.LengthFilter{MaxLength: cfg.MaxMessageLength}),
	)
	go b.Run()

	s := server.New(b, cfg, log)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- s.ServeTCP(ln) }()

	httpServer := httptest.NewServer(s.Routes())

	env := &testEnv{
		broker:  b,
		server:  s,
		tcpAddr: ln.Addr().String(),
		httpURL: httpServer.URL,
	}

	t.Cleanup(func() {
		httpServer.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		_ = b.Shutdown(time.Second)
		<-served
	})

	return env
}

// shutdown stops adapters then the broker so the registry can be inspected.
func (e *testEnv) shutdown(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.server.Shutdown(ctx))
	require.NoError(t, e.broker.Shutdown(time.Second))
}

type tcpPeer struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dialTCP(t *testing.T, addr, name string) *tcpPeer {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	p := &tcpPeer{conn: conn, reader: bufio.NewReader(conn)}
	if name != "" {
		p.writeJSON(t, protocol.Identify{DisplayName: name})
	}
	return p
}

func (p *tcpPeer) writeJSON(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, protocol.NewEncoder(p.conn).Encode(v))
}

func (p *tcpPeer) writeRaw(t *testing.T, line string) {
	t.Helper()
	_, err := p.conn.Write([]byte(line))
	require.NoError(t, err)
}

func (p *tcpPeer) send(t *testing.T, text string) {
	t.Helper()
	p.writeJSON(t, protocol.Send{Destinations: []string{}, Message: text})
}

// receive reads one Message envelope within timeout.
func (p *tcpPeer) receive(timeout time.Duration) (string, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	line, err := p.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	var msg protocol.Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return "", err
	}
	return msg.Payload, nil
}

func (p *tcpPeer) mustReceive(t *testing.T) string {
	t.Helper()
	payload, err := p.receive(2 * time.Second)
	require.NoError(t, err)
	return payload
}

func (p *tcpPeer) expectNothing(t *testing.T, wait time.Duration) {
	t.Helper()
	payload, err := p.receive(wait)
	var ne net.Error
	if err == nil || !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected no message, got %q (err=%v)", payload, err)
	}
}

func (p *tcpPeer) expectClosed(t *testing.T) {
	t.Helper()
	_, err := p.receive(2 * time.Second)
	require.Error(t, err)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		t.Fatal("expected connection to be closed, read timed out instead")
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func dialWS(t *testing.T, httpURL, name string) *websocket.Conn {
	t.Helper()

	headers := http.Header{}
	headers.Set("Origin", testOrigin)

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, resp, err := dialer.Dial(wsURL(httpURL), headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	if name != "" {
		require.NoError(t, conn.WriteJSON(protocol.Identify{DisplayName: name}))
	}
	return conn
}

func wsSend(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(protocol.Send{Destinations: []string{}, Message: text}))
}

// wsReceive returns the payloads carried by the next frame.
func wsReceive(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var payloads []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var msg protocol.Message
		require.NoError(t, protocol.Unmarshal([]byte(line), &msg))
		payloads = append(payloads, msg.Payload)
	}
	return payloads
}
