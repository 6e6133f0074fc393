// ABOUTME: In-memory directory of live agent and panel connections.
// ABOUTME: Owns all mutation of the role-keyed connection maps.

package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetgate/fleetgate/internal/protocol"
)

// ErrNotConnected indicates the requested device has no live connection.
var ErrNotConnected = errors.New("device not connected")

// Sender is the write side of a live connection. Implementations must
// serialize concurrent Send calls to the same underlying transport.
type Sender interface {
	// Send writes one complete message to the peer.
	Send(payload []byte) error

	// Close tears down the underlying transport. Must be idempotent.
	Close() error
}

// Conn is a registered connection with its identity and metadata. The
// ConnID distinguishes connection instances: a reconnect under the same
// device id gets a fresh ConnID, so the old instance's disconnect cannot
// remove the new entry.
type Conn struct {
	ID          string
	Role        protocol.Role
	Name        string
	ConnID      string
	ConnectedAt time.Time
	Sender      Sender
}

// NewConn builds a Conn with a fresh connection instance id and the
// current time as ConnectedAt.
func NewConn(id string, role protocol.Role, name string, sender Sender) *Conn {
	return &Conn{
		ID:          id,
		Role:        role,
		Name:        name,
		ConnID:      uuid.NewString(),
		ConnectedAt: time.Now(),
		Sender:      sender,
	}
}

// Info is the read-only metadata snapshot returned by List.
type Info struct {
	ID          string
	Name        string
	ConnectedAt time.Time
}

// Registry is the live directory mapping device ids to connections, one
// map per role. A single RWMutex guards both maps; every read and write
// goes through the guarded methods.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Conn
	panels map[string]*Conn
	logger *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		agents: make(map[string]*Conn),
		panels: make(map[string]*Conn),
		logger: logger.With("component", "registry"),
	}
}

func (r *Registry) bucket(role protocol.Role) map[string]*Conn {
	if role == protocol.RolePanel {
		return r.panels
	}
	return r.agents
}

// Register inserts or replaces the entry for (conn.ID, conn.Role).
// Last write wins: a duplicate id is not an error. The displaced
// connection, if any, is returned so the caller can close its transport —
// it is already orphaned from the registry at that point.
func (r *Registry) Register(conn *Conn) (replaced *Conn) {
	r.mu.Lock()
	bucket := r.bucket(conn.Role)
	replaced = bucket[conn.ID]
	bucket[conn.ID] = conn
	total := len(bucket)
	r.mu.Unlock()

	r.logger.Info("connection registered",
		"device_id", conn.ID,
		"name", conn.Name,
		"role", conn.Role,
		"replaced", replaced != nil,
		"total", total,
	)
	return replaced
}

// Unregister removes the entry for (id, role) only if its ConnID matches.
// A stale disconnect (the entry was already replaced or removed) is a
// benign no-op, not an error. Returns the removed connection when one
// was actually removed.
func (r *Registry) Unregister(id string, role protocol.Role, connID string) (*Conn, bool) {
	r.mu.Lock()
	bucket := r.bucket(role)
	conn, ok := bucket[id]
	if !ok || conn.ConnID != connID {
		r.mu.Unlock()
		return nil, false
	}
	delete(bucket, id)
	total := len(bucket)
	r.mu.Unlock()

	r.logger.Info("connection unregistered",
		"device_id", id,
		"name", conn.Name,
		"role", role,
		"total", total,
	)
	return conn, true
}

// Lookup returns the live connection for (id, role). Absence means the
// target is not connected; callers treat that as an expected condition.
func (r *Registry) Lookup(id string, role protocol.Role) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.bucket(role)[id]
	return conn, ok
}

// List returns a metadata snapshot of all connections with the given role.
// The snapshot is built under the read lock so a concurrent register or
// unregister never observes it half-built.
func (r *Registry) List(role protocol.Role) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.bucket(role)
	out := make([]Info, 0, len(bucket))
	for _, conn := range bucket {
		out = append(out, Info{ID: conn.ID, Name: conn.Name, ConnectedAt: conn.ConnectedAt})
	}
	return out
}

// Senders returns the live senders for every connection with the given
// role. Used for fan-out; each sender isolates its own write failures.
func (r *Registry) Senders(role protocol.Role) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.bucket(role)
	out := make([]*Conn, 0, len(bucket))
	for _, conn := range bucket {
		out = append(out, conn)
	}
	return out
}

// UpdateName records a late-arriving display name for an existing entry,
// e.g. identity details sent after the transport connect.
func (r *Registry) UpdateName(id string, role protocol.Role, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.bucket(role)[id]
	if !ok {
		return false
	}
	conn.Name = name
	return true
}

// Count returns the number of live connections with the given role.
func (r *Registry) Count(role protocol.Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bucket(role))
}

// AgentSummaries returns the current agent directory in wire form, sorted
// by nothing in particular — panels render it as an unordered set.
func (r *Registry) AgentSummaries() []protocol.AgentSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.AgentSummary, 0, len(r.agents))
	for _, conn := range r.agents {
		out = append(out, protocol.AgentSummary{ID: conn.ID, Name: conn.Name})
	}
	return out
}
