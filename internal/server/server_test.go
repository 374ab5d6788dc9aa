package server_test

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/linechat/internal/client"
	"github.com/omochice/linechat/internal/config"
	"github.com/omochice/linechat/internal/metrics"
	"github.com/omochice/linechat/internal/server"
	"github.com/omochice/linechat/pkg/protocol"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Server.MetricsAddress = ""
	return cfg
}

func startServer(t *testing.T, cfg config.Config, m *metrics.Metrics) *server.Server {
	t.Helper()
	srv := server.New(cfg, m)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

// lineConn is a raw TCP peer that speaks the protocol by hand.
type lineConn struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dialLine(t *testing.T, addr string) *lineConn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &lineConn{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (l *lineConn) send(raw string) {
	l.t.Helper()
	_, err := io.WriteString(l.conn, raw)
	require.NoError(l.t, err)
}

func (l *lineConn) readLine() string {
	l.t.Helper()
	require.NoError(l.t, l.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := l.reader.ReadString('\n')
	require.NoError(l.t, err)
	return strings.TrimSuffix(line, "\n")
}

func (l *lineConn) do(frame string) string {
	l.t.Helper()
	l.send(frame + "\n")
	return l.readLine()
}

// expectSilence asserts that nothing arrives for a short while.
func (l *lineConn) expectSilence() {
	l.t.Helper()
	require.NoError(l.t, l.conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	line, err := l.reader.ReadString('\n')
	assert.Error(l.t, err, "unexpected frame %q", line)
}

func joinLine(t *testing.T, addr, name string) *lineConn {
	t.Helper()
	l := dialLine(t, addr)
	require.Equal(t, "200 OK", l.do("JOIN "+name))
	return l
}

func TestServer_StartStop(t *testing.T) {
	srv := server.New(testConfig(), nil)
	require.NoError(t, srv.Start())
	addr := srv.Addr()
	assert.NotEmpty(t, addr)
	assert.Empty(t, srv.MetricsAddr())

	l := joinLine(t, addr, "alice")
	assert.Equal(t, 1, srv.ClientCount())
	assert.Equal(t, 1, srv.UserCount())
	l.conn.Close()
	require.Eventually(t, func() bool { return srv.ClientCount() == 0 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	_, err := net.Dial("tcp", addr)
	assert.Error(t, err, "expected error after stop")
}

func TestServer_StopClosesClients(t *testing.T) {
	srv := server.New(testConfig(), nil)
	require.NoError(t, srv.Start())

	l := joinLine(t, srv.Addr(), "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	require.NoError(t, l.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := l.reader.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, srv.UserCount())
}

func TestServer_UsernameValidation(t *testing.T) {
	srv := startServer(t, testConfig(), nil)

	tests := []struct {
		frame string
		want  string
	}{
		{"JOIN ab", "400 INVALID USERNAME"},
		{"JOIN al_ice", "400 INVALID USERNAME"},
		{"JOIN all", "400 INVALID USERNAME"},
		{"JOIN Al1ce", "200 OK"},
	}
	for _, tt := range tests {
		t.Run(tt.frame, func(t *testing.T) {
			l := dialLine(t, srv.Addr())
			assert.Equal(t, tt.want, l.do(tt.frame))
		})
	}
}

func TestServer_ConcurrentJoinUniqueness(t *testing.T) {
	srv := startServer(t, testConfig(), nil)

	const clients = 20
	conns := make([]*lineConn, clients)
	for i := range conns {
		conns[i] = dialLine(t, srv.Addr())
	}

	results := make([]string, clients)
	var wg sync.WaitGroup
	for i, l := range conns {
		wg.Add(1)
		go func(i int, l *lineConn) {
			defer wg.Done()
			if _, err := io.WriteString(l.conn, "JOIN alice\n"); err != nil {
				return
			}
			_ = l.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			line, _ := l.reader.ReadString('\n')
			results[i] = strings.TrimSpace(line)
		}(i, l)
	}
	wg.Wait()

	ok := 0
	for _, r := range results {
		switch r {
		case "200 OK":
			ok++
		default:
			assert.Equal(t, "400 INVALID USERNAME", r)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestServer_IdempotentCleanup(t *testing.T) {
	srv := startServer(t, testConfig(), nil)
	observer := joinLine(t, srv.Addr(), "bob")

	t.Run("leave", func(t *testing.T) {
		l := joinLine(t, srv.Addr(), "alice")
		l.send("LEAVE\nLEAVE\nUSERBOARD\n")
		assert.Equal(t, "200 BYE", l.readLine())
		assert.Equal(t, "200 BYE", l.readLine(), "a second LEAVE is a no-op")
		assert.Equal(t, `200 BOARD {"bob":"ONLINE"}`, l.readLine())
		l.conn.Close()
	})

	t.Run("disconnect", func(t *testing.T) {
		l := joinLine(t, srv.Addr(), "carol")
		l.conn.Close()
	})

	require.Eventually(t, func() bool { return srv.UserCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	board, err := protocol.ParseBoard(protocol.Response(observer.do("USERBOARD")))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"bob": "ONLINE"}, board)

	// The departed names are free again.
	joinLine(t, srv.Addr(), "alice")
}

func TestServer_BroadcastFanOut(t *testing.T) {
	srv := startServer(t, testConfig(), nil)
	a := joinLine(t, srv.Addr(), "alice")
	b := joinLine(t, srv.Addr(), "bob")
	c := joinLine(t, srv.Addr(), "carol")

	assert.Equal(t, "200 SENT", a.do(`SEND {"header":"@all","message":"hi"}`))

	for _, peer := range []*lineConn{b, c} {
		push := peer.readLine()
		raw, ok := protocol.ParsePush(push)
		require.True(t, ok, "got %q", push)
		assert.Contains(t, string(raw), `"message":"hi"`)
	}
	a.expectSilence()
}

func TestServer_DirectedPartialFailure(t *testing.T) {
	srv := startServer(t, testConfig(), nil)
	a := joinLine(t, srv.Addr(), "alice")
	b := joinLine(t, srv.Addr(), "bob")

	assert.Equal(t, "400 MESSAGE FAILED", a.do(`SEND {"header":"@bob @ghost","message":"psst"}`))
	assert.Equal(t, `MSG {"header":"@bob @ghost","message":"psst"}`, b.readLine())
}

func TestServer_StatusRoundTrip(t *testing.T) {
	srv := startServer(t, testConfig(), nil)
	a := joinLine(t, srv.Addr(), "alice")

	assert.Equal(t, "200 USERSTATUS UPDATED", a.do("USERSTATUS alice DO_NOT_DISTURB"))
	assert.Equal(t, `200 BOARD {"alice":"DO_NOT_DISTURB"}`, a.do("USERBOARD"))
	assert.Equal(t, "400 INVALID REQUEST", a.do("USERSTATUS ghost ONLINE"))
}

func TestServer_MessageBounds(t *testing.T) {
	srv := startServer(t, testConfig(), nil)
	a := joinLine(t, srv.Addr(), "alice")
	b := joinLine(t, srv.Addr(), "bob")

	assert.Equal(t, "400 MESSAGE FAILED", a.do(`SEND {"header":"@bob","message":""}`))
	long := strings.Repeat("x", 501)
	assert.Equal(t, "400 MESSAGE FAILED", a.do(fmt.Sprintf(`SEND {"header":"@all","message":%q}`, long)))
	b.expectSilence()
}

func TestServer_FrameReassembly(t *testing.T) {
	srv := startServer(t, testConfig(), nil)
	l := dialLine(t, srv.Addr())

	// Split mid-frame across two writes.
	l.send("JOIN ali")
	time.Sleep(20 * time.Millisecond)
	l.send("ce\n")
	assert.Equal(t, "200 OK", l.readLine())

	// Two frames in one write are answered in order.
	l.send("USERSTATUS alice OFFLINE\r\nUSERBOARD\n")
	assert.Equal(t, "200 USERSTATUS UPDATED", l.readLine())
	assert.Equal(t, `200 BOARD {"alice":"OFFLINE"}`, l.readLine())
}

func TestServer_UnknownCommand(t *testing.T) {
	srv := startServer(t, testConfig(), nil)
	l := dialLine(t, srv.Addr())

	assert.Equal(t, "500 SERVER ERROR", l.do("HELLO"))
	assert.Equal(t, "400 INVALID MESSAGE FORMAT", l.do("SEND not-json"), "connection stays open")
}

func TestServer_ShortFirstFrame(t *testing.T) {
	srv := startServer(t, testConfig(), nil)

	for _, frame := range []string{"ab", "X", "GE"} {
		t.Run(frame, func(t *testing.T) {
			l := dialLine(t, srv.Addr())
			assert.Equal(t, "500 SERVER ERROR", l.do(frame))
			assert.Equal(t, "200 OK", l.do("JOIN user"+frame+"1"), "connection stays open")
		})
	}
}

func TestServer_StopAfterFailedStart(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig()
	cfg.Server.MetricsAddress = busy.Addr().String()
	srv := server.New(cfg, metrics.New())
	require.Error(t, srv.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NotPanics(t, func() { _ = srv.Stop(ctx) })
}

func TestServer_FrameTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.MaxFrameBytes = 32
	srv := startServer(t, cfg, nil)
	l := joinLine(t, srv.Addr(), "alice")

	l.send(strings.Repeat("x", 64))
	_ = l.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := l.reader.ReadString('\n')
	assert.Error(t, err, "oversized frame closes the connection")
	require.Eventually(t, func() bool { return srv.UserCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_ReadTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.ReadTimeoutSeconds = 1
	srv := startServer(t, cfg, nil)
	l := joinLine(t, srv.Addr(), "alice")

	_ = l.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err := l.reader.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF, "idle connection is closed")
}

func TestServer_ClientPackage(t *testing.T) {
	srv := startServer(t, testConfig(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	alice, err := client.DialTCP(ctx, srv.Addr())
	require.NoError(t, err)
	defer alice.Close()
	bob, err := client.DialTCP(ctx, srv.Addr())
	require.NoError(t, err)
	defer bob.Close()

	require.NoError(t, alice.Join(ctx, "alice"))
	require.NoError(t, bob.Join(ctx, "bob"))
	require.NoError(t, alice.Send(ctx, "@bob", "hello bob"))

	select {
	case raw := <-bob.Messages():
		assert.Contains(t, string(raw), `"sender":"alice"`)
		assert.Contains(t, string(raw), `"message":"hello bob"`)
	case <-ctx.Done():
		t.Fatal("bob did not receive the message")
	}

	err = alice.Send(ctx, "@nobody", "hi")
	var respErr *client.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, protocol.ResponseMessageFailed, respErr.Response)

	require.NoError(t, bob.Leave(ctx))
	board, err := alice.UserBoard(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "ONLINE"}, board)
}

func TestServer_Metrics(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MetricsAddress = "127.0.0.1:0"
	m := metrics.New()
	srv := startServer(t, cfg, m)
	require.NotEmpty(t, srv.MetricsAddr())

	a := joinLine(t, srv.Addr(), "alice")
	joinLine(t, srv.Addr(), "bob")
	assert.Equal(t, "200 SENT", a.do(`SEND {"header":"@all","message":"hi"}`))

	count, err := testutil.GatherAndCount(m.Registry(), "linechat_deliveries_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	resp, err := http.Get("http://" + srv.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "linechat_active_users 2")
	assert.Contains(t, string(body), `linechat_connections_opened_total{transport="tcp"} 2`)
	assert.Contains(t, string(body), `linechat_frames_received_total{command="SEND"} 1`)
}
