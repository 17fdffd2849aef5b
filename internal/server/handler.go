package server

import (
	"bufio"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"

	"dbshell/internal/events"
	"dbshell/internal/protocol"
	"dbshell/internal/registry"
	"dbshell/internal/table"
)

// handle serves one connection until the peer leaves, a transport error
// occurs or shutdown closes the socket.
func (s *Server) handle(c *registry.Conn) {
	defer s.handlers.Done()
	defer s.release(c)

	nc := c.NetConn()
	reader := bufio.NewReaderSize(nc, s.config.MaxLineBytes)
	writer := bufio.NewWriter(nc)

	for {
		if s.config.IdleTimeout > 0 {
			_ = nc.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}

		var (
			reply string
			ok    bool
		)
		line, err := readLine(reader)
		switch {
		case errors.Is(err, protocol.ErrLineTooLong):
			reply, ok = s.reject(c, "", err), true
		case err != nil:
			if !errors.Is(err, io.EOF) && s.State() == StateListening {
				s.log.Warn(c.ID(), "read: %v", err)
			}
			return
		default:
			reply, ok = s.execute(c, line)
		}
		if !ok {
			continue
		}
		if _, err := writer.WriteString(reply); err != nil {
			s.log.Warn(c.ID(), "write: %v", err)
			return
		}
		if err := writer.Flush(); err != nil {
			s.log.Warn(c.ID(), "write: %v", err)
			return
		}
	}
}

// readLine returns the next line without its terminator. A line that does
// not fit in r's buffer is discarded through its newline and reported as
// protocol.ErrLineTooLong. A final line without a newline is returned as is.
func readLine(r *bufio.Reader) (string, error) {
	buf, err := r.ReadSlice('\n')
	switch {
	case err == nil:
		return strings.TrimSuffix(string(buf[:len(buf)-1]), "\r"), nil
	case errors.Is(err, bufio.ErrBufferFull):
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = r.ReadSlice('\n')
		}
		if err != nil {
			return "", err
		}
		return "", &protocol.Error{Reason: protocol.ErrLineTooLong}
	case errors.Is(err, io.EOF) && len(buf) > 0:
		return strings.TrimSuffix(string(buf), "\r"), nil
	default:
		return "", err
	}
}

// reject counts and reports a malformed request and returns its error reply.
func (s *Server) reject(c *registry.Conn, line string, err error) string {
	s.metrics.RecordProtocolError()
	if line == "" {
		s.log.Warn(c.ID(), "rejected request: %v", err)
	} else {
		s.log.Warn(c.ID(), "rejected %q: %v", line, err)
	}
	s.publish(events.NewProtocolErrorEvent(c.ID(), err))
	return protocol.FormatError(err)
}

// release deregisters and closes c.
func (s *Server) release(c *registry.Conn) {
	s.registry.Remove(c.ID())
	if err := c.Close(); err != nil {
		s.log.Debug(c.ID(), "%v", err)
	}
	s.metrics.ConnectionDropped()
	s.log.Info(c.ID(), "client %s left", c.RemoteAddr())
	s.publish(events.NewClientDisconnectedEvent(c.ID(), c.RemoteAddr()))
}

// execute applies one request line. It returns the reply and whether
// there is one; successful save and clear are not acknowledged.
func (s *Server) execute(c *registry.Conn, line string) (string, bool) {
	cmd, err := protocol.Parse(line)
	if err != nil {
		if errors.Is(err, protocol.ErrEmptyLine) {
			return "", false
		}
		return s.reject(c, line, err), true
	}
	c.SetClient(cmd.Client)

	start := time.Now()
	switch cmd.Verb {
	case protocol.VerbSave:
		created, err := s.table.Set(cmd.Name, cmd.Value)
		if err != nil {
			if errors.Is(err, table.ErrCapacityExceeded) {
				s.metrics.RecordCapacityError()
				s.publish(events.NewCapacityExceededEvent(c.ID(), cmd.Client, cmd.Name, err))
			}
			s.log.Warn(c.ID(), "save %s rejected: %v", cmd.Name, err)
			return protocol.FormatError(err), true
		}
		s.metrics.RecordSave(time.Since(start))
		if created {
			s.log.Info(c.ID(), "%s %s saved", cmd.Name, cmd.Value)
		} else {
			s.log.Info(c.ID(), "%s %s modified", cmd.Name, cmd.Value)
		}
		s.publish(events.NewVariableSetEvent(c.ID(), cmd.Client, cmd.Name, cmd.Value, created))
		return "", false

	case protocol.VerbRead:
		value, err := s.table.Get(cmd.Name)
		if err != nil {
			s.metrics.RecordRead(time.Since(start), false)
			if errors.Is(err, table.ErrNotFound) {
				return protocol.FormatReply(protocol.NotFoundReply), true
			}
			return protocol.FormatError(err), true
		}
		s.metrics.RecordRead(time.Since(start), true)
		return protocol.FormatReply(value), true

	default:
		removed := s.table.Clear()
		s.metrics.RecordClear(time.Since(start))
		s.log.Info(c.ID(), "cleared %d variable(s)", removed)
		s.publish(events.NewVariablesClearedEvent(c.ID(), cmd.Client, removed))
		return "", false
	}
}
