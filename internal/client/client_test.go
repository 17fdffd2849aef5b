package client

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbshell/internal/logger"
	"dbshell/internal/server"
	"dbshell/internal/table"
)

type testServer struct {
	srv  *server.Server
	tbl  *table.Table
	addr string
	port int
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	return startServerWithCapacity(t, 0)
}

func startServerWithCapacity(t *testing.T, capacity int) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	tbl := table.New(capacity)
	srv := server.New(server.Config{}, tbl, server.WithLogger(logger.New(io.Discard, logger.LevelError)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ServeListener(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})

	return &testServer{
		srv:  srv,
		tbl:  tbl,
		addr: ln.Addr().String(),
		port: ln.Addr().(*net.TCPAddr).Port,
	}
}

func (ts *testServer) stop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ts.srv.Shutdown(ctx))
}

func dial(t *testing.T, addr, name string) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := Dial(ctx, addr, name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestConnSaveReadClear(t *testing.T) {
	ts := startServer(t)
	conn := dial(t, ts.addr, "alice")
	ctx := context.Background()

	require.NoError(t, conn.Save("a", "1"))
	require.NoError(t, conn.Save("msg", "hello: world"))

	v, err := conn.Read(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	v, err = conn.Read(ctx, "msg")
	require.NoError(t, err)
	assert.Equal(t, "hello: world", v)

	_, err = conn.Read(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, conn.Clear())
	_, err = conn.Read(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, ts.tbl.Len())
}

func TestConnDefaultName(t *testing.T) {
	ts := startServer(t)
	conn := dial(t, ts.addr, "")
	assert.Equal(t, "[DEFAULT]", conn.Name())

	_, err := conn.Read(context.Background(), "x")
	require.ErrorIs(t, err, ErrNotFound)

	infos := ts.srv.Registry().List()
	require.Len(t, infos, 1)
	assert.Equal(t, "[DEFAULT]", infos[0].Client)
}

func TestConnReadSkipsErrorsOfEarlierSaves(t *testing.T) {
	ts := startServerWithCapacity(t, 1)
	conn := dial(t, ts.addr, "bob")
	ctx := context.Background()

	require.NoError(t, conn.Save("a", "1"))
	require.NoError(t, conn.Save("b", "2")) // rejected: table full

	v, err := conn.Read(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	_, err = conn.Read(ctx, "zzz")
	assert.ErrorIs(t, err, ErrNotFound)

	skipped := conn.SkippedErrors()
	require.Len(t, skipped, 1)
	assert.Contains(t, skipped[0].Message, "variable table is full")
	assert.Empty(t, conn.SkippedErrors())
}

func TestConnReadSkipsProtocolErrors(t *testing.T) {
	ts := startServer(t)
	conn := dial(t, ts.addr, "bob")

	require.NoError(t, conn.Send("frobnicate x"))
	_, err := conn.Read(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotFound)

	skipped := conn.SkippedErrors()
	require.Len(t, skipped, 1)
	assert.Equal(t, `unknown command: "frobnicate"`, skipped[0].Message)
}

func TestConnReadSkipsRepliesToSentReads(t *testing.T) {
	ts := startServer(t)
	conn := dial(t, ts.addr, "bob")
	ctx := context.Background()

	require.NoError(t, conn.Save("a", "1"))
	require.NoError(t, conn.Save("b", "2"))
	require.NoError(t, conn.Send("read a"))
	require.NoError(t, conn.Send("read missing"))

	v, err := conn.Read(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	v, err = conn.Read(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

func TestConnReadTimeoutDropsLateReply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	release := make(chan struct{})
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		r := bufio.NewReader(nc)

		// the first read is answered only after the client gave up on it
		if _, err := r.ReadString('\n'); err != nil {
			return
		}
		<-release
		_, _ = io.WriteString(nc, "late\n")

		if _, err := r.ReadString('\n'); err != nil {
			return
		}
		_, _ = io.WriteString(nc, "fresh\n")
		_, _ = r.ReadString('\n')
	}()

	conn := dial(t, ln.Addr().String(), "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	_, err = conn.Read(ctx, "a")
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)

	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := conn.Read(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestDialRejectsNameWithWhitespace(t *testing.T) {
	ts := startServer(t)

	for _, name := range []string{"John Doe", "tab\tname", "nl\n"} {
		_, err := Dial(context.Background(), ts.addr, name)
		assert.ErrorIs(t, err, ErrInvalidArgument, "%q", name)
	}
	assert.NoError(t, ValidateName("[DEFAULT]"))
	assert.Equal(t, 0, ts.srv.Registry().Count())
}

func TestConnInvalidArguments(t *testing.T) {
	ts := startServer(t)
	conn := dial(t, ts.addr, "bob")

	tests := []struct {
		name  string
		value string
	}{
		{"", "v"},
		{"a:b", "v"},
		{"a b", "v"},
		{"a", ""},
		{"a", "line\nbreak"},
		{"a", "ERR looks like an error"},
		{"a", "NO such variable"},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, conn.Save(tt.name, tt.value), ErrInvalidArgument, "%q=%q", tt.name, tt.value)
	}

	_, err := conn.Read(context.Background(), "two words")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, conn.Send("save a:1\nclear"), ErrInvalidArgument)
}

func TestConnReadContextCancel(t *testing.T) {
	ts := startServer(t)
	conn := dial(t, ts.addr, "bob")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := conn.Read(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnServerShutdown(t *testing.T) {
	ts := startServer(t)
	conn := dial(t, ts.addr, "bob")
	require.Eventually(t, func() bool { return ts.srv.Registry().Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	ts.stop(t)

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not notice the disconnect")
	}
	_, ok := <-conn.Replies()
	assert.False(t, ok)

	_, err := conn.Read(context.Background(), "a")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConnCloseIdempotent(t *testing.T) {
	ts := startServer(t)
	conn := dial(t, ts.addr, "bob")

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Err())
	assert.ErrorIs(t, conn.Save("a", "1"), ErrClosed)
}

func TestDialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), addr, "bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to "+addr)
}

// syncBuffer is a bytes.Buffer safe for the shell's concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type shellRun struct {
	in    *io.PipeWriter
	out   *syncBuffer
	errCh chan error
}

func runShell(t *testing.T, config ShellConfig) *shellRun {
	t.Helper()
	pr, pw := io.Pipe()
	out := &syncBuffer{}
	sh := NewShell(config, pr, out)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sh.Run(context.Background())
	}()
	t.Cleanup(func() { _ = pw.Close() })
	return &shellRun{in: pw, out: out, errCh: errCh}
}

func (r *shellRun) send(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(r.in, line+"\n")
	require.NoError(t, err)
}

func (r *shellRun) waitOutput(t *testing.T, substr string) {
	t.Helper()
	require.Eventually(t, func() bool { return strings.Contains(r.out.String(), substr) },
		2*time.Second, 5*time.Millisecond, "output: %q", r.out.String())
}

// waitLine waits for an output line equal to want once prompts are removed.
func (r *shellRun) waitLine(t *testing.T, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, line := range strings.Split(r.out.String(), "\n") {
			if strings.ReplaceAll(line, Prompt, "") == want {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "output: %q", r.out.String())
}

func (r *shellRun) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("shell did not exit")
		return nil
	}
}

func TestShellSession(t *testing.T) {
	ts := startServer(t)
	r := runShell(t, ShellConfig{Name: "alice", Port: ts.port})

	r.send(t, "connect 127.0.0.1")
	r.waitLine(t, "connected to "+ts.addr)
	r.send(t, "save a:1")
	r.send(t, "save b:2")
	r.send(t, "read a")
	r.waitLine(t, "1")

	r.send(t, "save a:3")
	r.send(t, "read a")
	r.waitLine(t, "3")

	r.send(t, "clear")
	r.send(t, "read a")
	r.waitLine(t, "NO such variable")

	r.send(t, "exit")
	assert.NoError(t, r.wait(t))
	assert.True(t, strings.HasPrefix(r.out.String(), Prompt))

	assert.Eventually(t, func() bool { return ts.srv.Registry().Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestShellNameIsSent(t *testing.T) {
	ts := startServer(t)
	r := runShell(t, ShellConfig{Name: "carol", Port: ts.port})

	r.send(t, "connect 127.0.0.1")
	r.send(t, "read x")
	r.waitOutput(t, "NO such variable")

	infos := ts.srv.Registry().List()
	require.Len(t, infos, 1)
	assert.Equal(t, "carol", infos[0].Client)

	r.send(t, "exit")
	assert.NoError(t, r.wait(t))
}

func TestShellErrorReply(t *testing.T) {
	ts := startServer(t)
	r := runShell(t, ShellConfig{Port: ts.port})

	r.send(t, "connect 127.0.0.1")
	r.send(t, "save novalue")
	r.waitOutput(t, "ERR save expects <name>:<value>")

	r.send(t, "exit")
	assert.NoError(t, r.wait(t))
}

func TestShellNotConnected(t *testing.T) {
	r := runShell(t, ShellConfig{})

	r.send(t, "save a:1")
	r.waitOutput(t, "not connected")
	r.send(t, "connect")
	r.waitOutput(t, "usage: connect <ip>")

	r.send(t, "exit")
	assert.NoError(t, r.wait(t))
}

func TestShellConnectError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	r := runShell(t, ShellConfig{Port: port})
	r.send(t, "connect 127.0.0.1")
	r.waitOutput(t, "connect to 127.0.0.1:"+strconv.Itoa(port))

	r.send(t, "exit")
	assert.NoError(t, r.wait(t))
}

func TestShellEndOfInput(t *testing.T) {
	r := runShell(t, ShellConfig{})
	require.NoError(t, r.in.Close())
	assert.NoError(t, r.wait(t))
}

func TestShellServerDisconnect(t *testing.T) {
	ts := startServer(t)
	r := runShell(t, ShellConfig{Port: ts.port})

	r.send(t, "connect 127.0.0.1")
	r.send(t, "read x")
	r.waitOutput(t, "NO such variable")

	ts.stop(t)
	assert.ErrorIs(t, r.wait(t), ErrDisconnected)
	assert.Contains(t, r.out.String(), ErrDisconnected.Error())
}

func TestNewShellDefaults(t *testing.T) {
	sh := NewShell(ShellConfig{}, strings.NewReader(""), io.Discard)
	assert.Equal(t, "[DEFAULT]", sh.config.Name)
	assert.Equal(t, DefaultPort, sh.config.Port)
}
