package client

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"unicode"

	"github.com/pkg/errors"

	"dbshell/internal/logger"
	"dbshell/internal/protocol"
)

const component = "client"

var (
	// ErrNotFound is returned by Read when the server has no such variable.
	ErrNotFound = errors.New("no such variable")
	// ErrClosed is returned once the connection is gone.
	ErrClosed = errors.New("connection closed")
	// ErrInvalidArgument is returned by Save and Read for names or values
	// the line protocol cannot carry.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ServerError is an ERR reply from the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server: " + e.Message
}

// Conn is a connection to a shell server. Reply lines are read by a
// background goroutine and delivered on Replies in arrival order.
type Conn struct {
	name string
	nc   net.Conn

	// wmu orders writes and guards pending.
	wmu sync.Mutex
	// pending counts value replies still owed to earlier reads that no
	// Read is waiting for.
	pending int

	// rmu serializes Read.
	rmu sync.Mutex

	replies chan string
	done    chan struct{}
	closing chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
	skipped   []*ServerError
}

// ValidateName rejects display names the server would split into several
// words.
func ValidateName(name string) error {
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return errors.Wrapf(ErrInvalidArgument, "name %q contains whitespace", name)
	}
	return nil
}

// Dial connects to addr. Requests are prefixed with name, or with
// protocol.DefaultClientName when name is empty.
func Dial(ctx context.Context, addr, name string) (*Conn, error) {
	if name == "" {
		name = protocol.DefaultClientName
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", addr)
	}
	logger.Debug(component, "connected to %s as %s", addr, name)

	c := &Conn{
		name:    name,
		nc:      nc,
		replies: make(chan string, 16),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go c.receive()
	return c, nil
}

// Name returns the display name sent with every request.
func (c *Conn) Name() string {
	return c.name
}

// RemoteAddr returns the server address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// Replies delivers server reply lines without terminators. It is closed
// when the connection ends.
func (c *Conn) Replies() <-chan string {
	return c.replies
}

// Done is closed once the receiver has stopped.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the read error that ended the connection, nil for a clean
// close by either side.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) receive() {
	defer close(c.done)
	defer close(c.replies)

	scanner := bufio.NewScanner(c.nc)
	for scanner.Scan() {
		select {
		case c.replies <- scanner.Text():
		case <-c.closing:
			return
		}
	}

	select {
	case <-c.closing:
		return
	default:
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		c.mu.Lock()
		c.err = errors.Wrap(err, "receive")
		c.mu.Unlock()
	}
}

// writeLocked must be called with c.wmu held.
func (c *Conn) writeLocked(line string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if _, err := io.WriteString(c.nc, line); err != nil {
		return errors.Wrap(err, "send")
	}
	return nil
}

func (c *Conn) write(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.writeLocked(line)
}

// Send writes one line typed by a user, prefixed with the client name.
func (c *Conn) Send(input string) error {
	input = strings.TrimRight(input, "\r\n")
	if strings.ContainsAny(input, "\r\n") {
		return errors.Wrap(ErrInvalidArgument, "input spans several lines")
	}
	line := protocol.FormatRequest(c.name, input)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.writeLocked(line); err != nil {
		return err
	}
	// a well-formed read is always answered with a value line
	if cmd, err := protocol.Parse(line); err == nil && cmd.Verb == protocol.VerbRead {
		c.pending++
	}
	return nil
}

// Save stores value under name. The server does not acknowledge a save;
// a rejection arrives later as an ERR reply, which Read sets aside and
// SkippedErrors returns.
func (c *Conn) Save(name, value string) error {
	if name == "" || strings.ContainsAny(name, ": \t\r\n") {
		return errors.Wrapf(ErrInvalidArgument, "name %q", name)
	}
	if value == "" || strings.ContainsAny(value, "\r\n") ||
		strings.HasPrefix(value, protocol.ErrorPrefix) || value == protocol.NotFoundReply {
		return errors.Wrapf(ErrInvalidArgument, "value %q", value)
	}
	return c.write(protocol.Command{Client: c.name, Verb: protocol.VerbSave, Name: name, Value: value}.Line())
}

// Clear removes every variable on the server.
func (c *Conn) Clear() error {
	return c.write(protocol.Command{Client: c.name, Verb: protocol.VerbClear}.Line())
}

// Read asks for name and waits for its reply. A valid read is never
// answered with ERR, so ERR lines that arrive first belong to earlier
// saves; they are kept for SkippedErrors. Value lines owed to earlier
// reads (a Send of "read", or a Read whose ctx expired) are discarded.
// Read consumes from Replies, so it must not be mixed with another reader
// of that channel.
func (c *Conn) Read(ctx context.Context, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return "", errors.Wrapf(ErrInvalidArgument, "name %q", name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.rmu.Lock()
	defer c.rmu.Unlock()

	c.wmu.Lock()
	if err := c.writeLocked(protocol.Command{Client: c.name, Verb: protocol.VerbRead, Name: name}.Line()); err != nil {
		c.wmu.Unlock()
		return "", err
	}
	skip := c.pending
	c.pending = 0
	c.wmu.Unlock()

	for {
		select {
		case <-ctx.Done():
			// the replies still arrive; the next Read drops them
			c.wmu.Lock()
			c.pending += skip + 1
			c.wmu.Unlock()
			return "", ctx.Err()

		case reply, ok := <-c.replies:
			if !ok {
				return "", ErrClosed
			}
			if protocol.IsErrorReply(reply) {
				c.mu.Lock()
				c.skipped = append(c.skipped, &ServerError{Message: strings.TrimPrefix(reply, protocol.ErrorPrefix)})
				c.mu.Unlock()
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			if reply == protocol.NotFoundReply {
				return "", ErrNotFound
			}
			return reply, nil
		}
	}
}

// SkippedErrors returns and forgets the ERR replies Read has set aside,
// oldest first.
func (c *Conn) SkippedErrors() []*ServerError {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.skipped
	c.skipped = nil
	return out
}

// Close closes the connection and stops the receiver.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.nc.Close()
	})
	<-c.done
	if err != nil {
		return errors.Wrap(err, "close")
	}
	return nil
}
