// ABOUTME: Tests for the connection registry including replacement semantics.
// ABOUTME: Validates register/unregister pairing, snapshots, and thread safety.

package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetgate/fleetgate/internal/protocol"
)

// mockSender records sent payloads for assertions.
type mockSender struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (m *mockSender) Send(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, payload)
	return nil
}

func (m *mockSender) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func newConn(id, name, connID string, role protocol.Role) *Conn {
	return &Conn{
		ID:          id,
		Role:        role,
		Name:        name,
		ConnID:      connID,
		ConnectedAt: time.Now(),
		Sender:      &mockSender{},
	}
}

func TestRegister(t *testing.T) {
	t.Run("registers agent", func(t *testing.T) {
		reg := New(slog.Default())

		replaced := reg.Register(newConn("A1", "Phone1", "c1", protocol.RoleAgent))
		assert.Nil(t, replaced)

		list := reg.List(protocol.RoleAgent)
		require.Len(t, list, 1)
		assert.Equal(t, "A1", list[0].ID)
		assert.Equal(t, "Phone1", list[0].Name)
	})

	t.Run("same id replaces and returns old connection", func(t *testing.T) {
		reg := New(slog.Default())
		first := newConn("A1", "Phone1", "c1", protocol.RoleAgent)
		second := newConn("A1", "Phone1", "c2", protocol.RoleAgent)

		reg.Register(first)
		replaced := reg.Register(second)

		require.NotNil(t, replaced)
		assert.Equal(t, "c1", replaced.ConnID)

		// Lookup must now resolve to the new instance.
		got, ok := reg.Lookup("A1", protocol.RoleAgent)
		require.True(t, ok)
		assert.Equal(t, "c2", got.ConnID)
		assert.Equal(t, 1, reg.Count(protocol.RoleAgent))
	})

	t.Run("agents and panels are separate namespaces", func(t *testing.T) {
		reg := New(slog.Default())

		reg.Register(newConn("X", "Device", "c1", protocol.RoleAgent))
		reg.Register(newConn("X", "Operator", "c2", protocol.RolePanel))

		assert.Equal(t, 1, reg.Count(protocol.RoleAgent))
		assert.Equal(t, 1, reg.Count(protocol.RolePanel))
	})
}

func TestUnregister(t *testing.T) {
	t.Run("removes matching connection", func(t *testing.T) {
		reg := New(slog.Default())
		reg.Register(newConn("A1", "Phone1", "c1", protocol.RoleAgent))

		removed, ok := reg.Unregister("A1", protocol.RoleAgent, "c1")
		require.True(t, ok)
		assert.Equal(t, "A1", removed.ID)
		assert.Empty(t, reg.List(protocol.RoleAgent))
	})

	t.Run("missing entry is a no-op", func(t *testing.T) {
		reg := New(slog.Default())

		_, ok := reg.Unregister("ghost", protocol.RoleAgent, "c1")
		assert.False(t, ok)
	})

	t.Run("stale disconnect does not remove a replacement", func(t *testing.T) {
		reg := New(slog.Default())
		reg.Register(newConn("A1", "Phone1", "c1", protocol.RoleAgent))
		reg.Register(newConn("A1", "Phone1", "c2", protocol.RoleAgent))

		// The old socket's disconnect fires after the reconnect.
		_, ok := reg.Unregister("A1", protocol.RoleAgent, "c1")
		assert.False(t, ok)

		got, stillThere := reg.Lookup("A1", protocol.RoleAgent)
		require.True(t, stillThere)
		assert.Equal(t, "c2", got.ConnID)
	})

	t.Run("double unregister is tolerated", func(t *testing.T) {
		reg := New(slog.Default())
		reg.Register(newConn("A1", "Phone1", "c1", protocol.RoleAgent))

		_, ok := reg.Unregister("A1", protocol.RoleAgent, "c1")
		require.True(t, ok)
		_, ok = reg.Unregister("A1", protocol.RoleAgent, "c1")
		assert.False(t, ok)
	})
}

func TestLookup(t *testing.T) {
	t.Run("returns false when absent", func(t *testing.T) {
		reg := New(slog.Default())

		_, ok := reg.Lookup("nope", protocol.RoleAgent)
		assert.False(t, ok)
	})
}

func TestUpdateName(t *testing.T) {
	reg := New(slog.Default())
	reg.Register(newConn("A1", "", "c1", protocol.RoleAgent))

	ok := reg.UpdateName("A1", protocol.RoleAgent, "Phone1")
	require.True(t, ok)

	list := reg.List(protocol.RoleAgent)
	require.Len(t, list, 1)
	assert.Equal(t, "Phone1", list[0].Name)

	assert.False(t, reg.UpdateName("missing", protocol.RoleAgent, "x"))
}

func TestAgentSummaries(t *testing.T) {
	reg := New(slog.Default())
	assert.Empty(t, reg.AgentSummaries())

	reg.Register(newConn("A1", "Phone1", "c1", protocol.RoleAgent))
	reg.Register(newConn("A2", "Phone2", "c2", protocol.RoleAgent))
	reg.Register(newConn("P1", "Operator", "c3", protocol.RolePanel))

	sums := reg.AgentSummaries()
	require.Len(t, sums, 2)
	ids := map[string]string{}
	for _, s := range sums {
		ids[s.ID] = s.Name
	}
	assert.Equal(t, map[string]string{"A1": "Phone1", "A2": "Phone2"}, ids)
}

// TestInterleavedRegisterUnregister checks that after any sequence of
// matched register/unregister pairs the directory holds exactly the ids
// with a net positive registration count.
func TestInterleavedRegisterUnregister(t *testing.T) {
	reg := New(slog.Default())

	// A1 registers twice (replacement) and the first instance disconnects
	// late; A2 registers and disconnects cleanly; A3 stays connected.
	reg.Register(newConn("A1", "n", "a1-c1", protocol.RoleAgent))
	reg.Register(newConn("A2", "n", "a2-c1", protocol.RoleAgent))
	reg.Register(newConn("A1", "n", "a1-c2", protocol.RoleAgent))
	reg.Register(newConn("A3", "n", "a3-c1", protocol.RoleAgent))
	reg.Unregister("A2", protocol.RoleAgent, "a2-c1")
	reg.Unregister("A1", protocol.RoleAgent, "a1-c1") // stale, no-op

	ids := map[string]bool{}
	for _, info := range reg.List(protocol.RoleAgent) {
		ids[info.ID] = true
	}
	assert.Equal(t, map[string]bool{"A1": true, "A3": true}, ids)
}

func TestConcurrentAccess(t *testing.T) {
	t.Run("handles concurrent register, unregister, and list", func(t *testing.T) {
		reg := New(slog.Default())
		var wg sync.WaitGroup

		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				id := fmt.Sprintf("agent-%d", n)
				connID := fmt.Sprintf("conn-%d", n)
				reg.Register(newConn(id, "Agent", connID, protocol.RoleAgent))
				if n%2 == 0 {
					reg.Unregister(id, protocol.RoleAgent, connID)
				}
			}(i)
		}

		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				reg.List(protocol.RoleAgent)
				reg.AgentSummaries()
			}()
		}

		wg.Wait()
		assert.Equal(t, 10, reg.Count(protocol.RoleAgent))
	})
}

func TestNewConnAssignsFreshInstanceID(t *testing.T) {
	a := NewConn("A1", protocol.RoleAgent, "Phone1", &mockSender{})
	b := NewConn("A1", protocol.RoleAgent, "Phone1", &mockSender{})

	assert.NotEmpty(t, a.ConnID)
	assert.NotEqual(t, a.ConnID, b.ConnID, "reconnects are distinct instances")
	assert.False(t, a.ConnectedAt.IsZero())
}
