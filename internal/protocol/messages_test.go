// ABOUTME: Tests for wire message parsing and encoding.
// ABOUTME: Covers malformed payload rejection and directory update shape.

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandEncode(t *testing.T) {
	cmd := Command{TargetID: "A1", Action: "ping", Payload: json.RawMessage(`""`)}

	data, err := cmd.Encode()
	require.NoError(t, err)

	// The target id is implied by the connection and must not leak onto
	// the agent wire.
	assert.JSONEq(t, `{"action":"ping","payload":""}`, string(data))
}

func TestCommandObjectPayloadPassThrough(t *testing.T) {
	var cmd Command
	err := json.Unmarshal([]byte(`{"target_id":"A1","action":"reboot","payload":{"delay":5}}`), &cmd)
	require.NoError(t, err)

	data, err := cmd.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"reboot","payload":{"delay":5}}`, string(data))
}

func TestParseEvent(t *testing.T) {
	t.Run("valid event", func(t *testing.T) {
		evt, err := ParseEvent([]byte(`{"event":"gps","data":{"lat":1,"lon":2}}`))
		require.NoError(t, err)
		assert.Equal(t, "gps", evt.Event)
		assert.JSONEq(t, `{"lat":1,"lon":2}`, string(evt.Data))
	})

	t.Run("rejects non-object payload", func(t *testing.T) {
		_, err := ParseEvent([]byte(`[1,2,3]`))
		assert.ErrorIs(t, err, ErrMalformedMessage)
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{not json`))
		assert.ErrorIs(t, err, ErrMalformedMessage)
	})

	t.Run("rejects missing event tag", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{"data":{"lat":1}}`))
		assert.ErrorIs(t, err, ErrMalformedMessage)
	})

	t.Run("allows absent data", func(t *testing.T) {
		evt, err := ParseEvent([]byte(`{"event":"battery_low"}`))
		require.NoError(t, err)
		assert.Equal(t, "battery_low", evt.Event)
	})
}

func TestNewDirectoryUpdate(t *testing.T) {
	t.Run("normalizes nil to empty list", func(t *testing.T) {
		upd := NewDirectoryUpdate(nil)

		data, err := json.Marshal(upd)
		require.NoError(t, err)
		assert.JSONEq(t, `{"event":"agents_list","data":[]}`, string(data))
	})

	t.Run("carries full agent list", func(t *testing.T) {
		upd := NewDirectoryUpdate([]AgentSummary{
			{ID: "A1", Name: "Phone1"},
			{ID: "A2", Name: "Phone2"},
		})

		data, err := json.Marshal(upd)
		require.NoError(t, err)
		assert.JSONEq(t, `{"event":"agents_list","data":[{"id":"A1","name":"Phone1"},{"id":"A2","name":"Phone2"}]}`, string(data))
	})
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleAgent.Valid())
	assert.True(t, RolePanel.Valid())
	assert.False(t, Role("browser").Valid())
	assert.False(t, Role("").Valid())
}
