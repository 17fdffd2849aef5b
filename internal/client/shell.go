package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"dbshell/internal/protocol"
)

const (
	// Prompt is printed before every input line.
	Prompt = "client shell >> "
	// DefaultPort is the server port used by connect.
	DefaultPort = 12345
)

// ErrDisconnected is returned by Shell.Run when the server closes the
// connection.
var ErrDisconnected = errors.New("server closed the connection")

// ShellConfig configures the interactive shell.
type ShellConfig struct {
	Name string // display-name prefix, protocol.DefaultClientName if empty
	Port int    // port used by connect, DefaultPort if zero
}

// Shell is the interactive front end. Each input line is either a local
// command (connect, exit) or forwarded to the server prefixed with the
// display name. Replies are printed as they arrive.
type Shell struct {
	config ShellConfig
	in     io.Reader

	outMu sync.Mutex
	out   io.Writer

	conn    *Conn
	printed chan struct{}
}

// NewShell creates a shell reading commands from in and writing to out.
func NewShell(config ShellConfig, in io.Reader, out io.Writer) *Shell {
	if config.Name == "" {
		config.Name = protocol.DefaultClientName
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	return &Shell{config: config, in: in, out: out}
}

func (s *Shell) printf(format string, args ...interface{}) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

// Run executes commands until exit, end of input, ctx cancellation or a
// server disconnect. The last case returns ErrDisconnected.
func (s *Shell) Run(ctx context.Context) error {
	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	defer s.disconnect()

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()

	for {
		s.printf("%s", Prompt)

		select {
		case <-ctx.Done():
			return nil
		case <-s.printedCh():
			if err := s.conn.Err(); err != nil {
				s.printf("\n%v: %v\n", ErrDisconnected, err)
			} else {
				s.printf("\n%v\n", ErrDisconnected)
			}
			return ErrDisconnected
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := s.execute(ctx, line); done {
				return nil
			}
		}
	}
}

// printedCh is nil, and so never ready, while disconnected.
func (s *Shell) printedCh() <-chan struct{} {
	if s.conn == nil {
		return nil
	}
	return s.printed
}

// execute handles one input line and reports whether the shell should exit.
func (s *Shell) execute(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	cmd, rest, _ := strings.Cut(input, " ")

	switch cmd {
	case "":
		return false
	case "exit":
		return true
	case "connect":
		ip := strings.TrimSpace(rest)
		if ip == "" {
			s.printf("usage: connect <ip>\n")
			return false
		}
		if err := s.connect(ctx, ip); err != nil {
			s.printf("%v\n", err)
		}
		return false
	}

	if s.conn == nil {
		s.printf("not connected; use connect <ip>\n")
		return false
	}
	if err := s.conn.Send(input); err != nil {
		s.printf("%v\n", err)
	}
	return false
}

func (s *Shell) connect(ctx context.Context, ip string) error {
	s.disconnect()

	addr := net.JoinHostPort(ip, strconv.Itoa(s.config.Port))
	conn, err := Dial(ctx, addr, s.config.Name)
	if err != nil {
		return err
	}

	s.conn = conn
	s.printed = make(chan struct{})
	s.printf("connected to %s\n", conn.RemoteAddr())
	go s.printReplies(conn, s.printed)
	return nil
}

// printReplies copies reply lines to out until the connection ends.
func (s *Shell) printReplies(conn *Conn, printed chan<- struct{}) {
	defer close(printed)
	for reply := range conn.Replies() {
		s.printf("%s\n", reply)
	}
}

func (s *Shell) disconnect() {
	if s.conn == nil {
		return
	}
	_ = s.conn.Close()
	<-s.printed
	s.conn = nil
	s.printed = nil
}
