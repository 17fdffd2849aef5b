package registry

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Conn is one accepted client connection.
type Conn struct {
	id          string
	remote      string
	connectedAt time.Time
	conn        net.Conn

	mu     sync.Mutex
	client string
	closed bool
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address as text.
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// ConnectedAt returns the accept time.
func (c *Conn) ConnectedAt() time.Time {
	return c.connectedAt
}

// NetConn returns the underlying transport.
func (c *Conn) NetConn() net.Conn {
	return c.conn
}

// SetClient records the display name the peer sent with its last line.
func (c *Conn) SetClient(name string) {
	c.mu.Lock()
	c.client = name
	c.mu.Unlock()
}

// Client returns the last display name sent by the peer.
func (c *Conn) Client() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// Close closes the transport once. Later calls are no-ops.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.conn.Close(); err != nil {
		return errors.Wrapf(err, "close %s", c.id)
	}
	return nil
}

// Info is a point-in-time description of a connection.
type Info struct {
	ID          string    `json:"id"`
	Remote      string    `json:"remote"`
	Client      string    `json:"client,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Info returns a snapshot of the connection attributes.
func (c *Conn) Info() Info {
	return Info{
		ID:          c.id,
		Remote:      c.remote,
		Client:      c.Client(),
		ConnectedAt: c.connectedAt,
	}
}

// Registry tracks live connections in accept order.
type Registry struct {
	mu    sync.Mutex
	conns []*Conn
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// Add registers an accepted transport and returns its entry.
func (r *Registry) Add(nc net.Conn) *Conn {
	c := &Conn{
		id:          uuid.NewString(),
		connectedAt: time.Now(),
		conn:        nc,
	}
	if addr := nc.RemoteAddr(); addr != nil {
		c.remote = addr.String()
	}

	r.mu.Lock()
	r.conns = append(r.conns, c)
	r.mu.Unlock()
	return c
}

// Remove unregisters the connection with the given id.
// It reports whether the id was registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, c := range r.conns {
		if c.id == id {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			return true
		}
	}
	return false
}

// Get looks up a connection by id.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.conns {
		if c.id == id {
			return c, true
		}
	}
	return nil, false
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Conns returns the registered connections in accept order.
func (r *Registry) Conns() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Conn, len(r.conns))
	copy(out, r.conns)
	return out
}

// List returns an Info snapshot of every registered connection.
func (r *Registry) List() []Info {
	conns := r.Conns()
	infos := make([]Info, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, c.Info())
	}
	return infos
}

// CloseAll closes every registered transport and returns how many were
// closed. Entries stay registered until their handlers remove them.
func (r *Registry) CloseAll() int {
	conns := r.Conns()
	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}
