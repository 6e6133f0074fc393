// ABOUTME: Tests for agent event fan-out to panels.
// ABOUTME: Covers malformed input, thumbnail interception, and both modes.

package relay

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetgate/fleetgate/internal/mediacache"
	"github.com/fleetgate/fleetgate/internal/protocol"
	"github.com/fleetgate/fleetgate/internal/registry"
)

func newBroadcastRelay(t *testing.T) (*Relay, *registry.Registry, *mediacache.Cache) {
	t.Helper()
	reg := registry.New(nil)
	media := mediacache.New(0)
	t.Cleanup(media.Close)
	return New(reg, media, ModeBroadcast, nil), reg, media
}

func TestHandleAgentMessageBroadcast(t *testing.T) {
	relay, reg, _ := newBroadcastRelay(t)

	agent, _ := registerAgent(t, reg, "cam-1", "Front Door")
	_, p1 := registerPanel(t, reg, "panel-1")
	_, p2 := registerPanel(t, reg, "panel-2")

	relay.HandleAgentMessage(agent, []byte(`{"event":"motion","data":{"zone":3}}`))

	for _, sender := range []*mockSender{p1, p2} {
		msgs := sender.messages()
		require.Len(t, msgs, 1)

		var env protocol.PanelEvent
		require.NoError(t, json.Unmarshal(msgs[0], &env))
		assert.Equal(t, "cam-1", env.AgentID)
		assert.Equal(t, "Front Door", env.AgentName)
		assert.Equal(t, "motion", env.Event)
		assert.JSONEq(t, `{"zone":3}`, string(env.Data))
	}
}

func TestHandleAgentMessageMalformedDropped(t *testing.T) {
	relay, reg, _ := newBroadcastRelay(t)

	agent, _ := registerAgent(t, reg, "cam-1", "Front Door")
	_, panel := registerPanel(t, reg, "panel-1")

	for _, raw := range [][]byte{
		[]byte(`not json`),
		[]byte(`[1,2,3]`),
		[]byte(`{"data":{"zone":3}}`),
		[]byte(`{"event":""}`),
	} {
		relay.HandleAgentMessage(agent, raw)
	}
	assert.Empty(t, panel.messages())
}

func TestHandleAgentMessageThumbnailsStoredNotBroadcast(t *testing.T) {
	relay, reg, media := newBroadcastRelay(t)

	agent, _ := registerAgent(t, reg, "cam-1", "Front Door")
	_, panel := registerPanel(t, reg, "panel-1")

	raw := []byte(`{"event":"thumbnails_data","data":[{"filename":"a.jpg"},{"filename":"b.jpg"}]}`)
	relay.HandleAgentMessage(agent, raw)

	assert.Empty(t, panel.messages())
	assert.Len(t, media.List("cam-1"), 2)
	assert.Equal(t, mediacache.StatusComplete, media.Status("cam-1"))
}

func TestHandleAgentMessageNoPanels(t *testing.T) {
	relay, reg, _ := newBroadcastRelay(t)
	agent, _ := registerAgent(t, reg, "cam-1", "Front Door")

	// Must not panic or error with nobody listening.
	relay.HandleAgentMessage(agent, []byte(`{"event":"motion","data":null}`))
}

func TestBroadcastPanelFailureIsolated(t *testing.T) {
	relay, reg, _ := newBroadcastRelay(t)

	agent, _ := registerAgent(t, reg, "cam-1", "Front Door")
	_, bad := registerPanel(t, reg, "panel-bad")
	_, good := registerPanel(t, reg, "panel-good")
	bad.sendErr = errors.New("broken pipe")

	relay.HandleAgentMessage(agent, []byte(`{"event":"motion","data":{}}`))

	assert.Len(t, good.messages(), 1, "healthy panel still receives the event")
}

func TestMailboxModeStoresEvents(t *testing.T) {
	reg := registry.New(nil)
	media := mediacache.New(0)
	defer media.Close()
	relay := New(reg, media, ModeMailbox, nil)

	agent, _ := registerAgent(t, reg, "cam-1", "Front Door")
	_, panel := registerPanel(t, reg, "panel-1")

	relay.HandleAgentMessage(agent, []byte(`{"event":"motion","data":{"zone":1}}`))
	relay.HandleAgentMessage(agent, []byte(`{"event":"motion","data":{"zone":2}}`))
	relay.HandleAgentMessage(agent, []byte(`{"event":"door","data":{}}`))

	assert.Empty(t, panel.messages(), "mailbox mode never pushes agent events")

	events := relay.Events().Take("cam-1")
	require.Len(t, events, 2)
	assert.Equal(t, "motion", events[0].Event)
	assert.JSONEq(t, `{"zone":2}`, string(events[0].Data), "newer event of same type replaces older")
	assert.Equal(t, "door", events[1].Event)

	assert.Empty(t, relay.Events().Take("cam-1"), "take drains the store")
}

func TestBroadcastDirectory(t *testing.T) {
	relay, reg, _ := newBroadcastRelay(t)

	registerAgent(t, reg, "cam-1", "Front Door")
	_, panel := registerPanel(t, reg, "panel-1")

	relay.BroadcastDirectory()

	msgs := panel.messages()
	require.Len(t, msgs, 1)

	var update protocol.DirectoryUpdate
	require.NoError(t, json.Unmarshal(msgs[0], &update))
	assert.Equal(t, protocol.EventAgentsList, update.Event)
	require.Len(t, update.Data, 1)
	assert.Equal(t, "cam-1", update.Data[0].ID)
	assert.Equal(t, "Front Door", update.Data[0].Name)
}

func TestBroadcastDirectoryEmpty(t *testing.T) {
	relay, reg, _ := newBroadcastRelay(t)
	_, panel := registerPanel(t, reg, "panel-1")

	relay.BroadcastDirectory()

	msgs := panel.messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"event":"agents_list","data":[]}`, string(msgs[0]))
}

func TestSendDirectory(t *testing.T) {
	relay, reg, _ := newBroadcastRelay(t)

	registerAgent(t, reg, "cam-1", "Front Door")
	conn, panel := registerPanel(t, reg, "panel-1")

	require.NoError(t, relay.SendDirectory(conn))
	require.Len(t, panel.messages(), 1)

	panel.sendErr = errors.New("broken pipe")
	assert.Error(t, relay.SendDirectory(conn))
}

func TestEvictAgentClearsStoredEvents(t *testing.T) {
	reg := registry.New(nil)
	media := mediacache.New(0)
	defer media.Close()
	relay := New(reg, media, ModeMailbox, nil)

	agent, _ := registerAgent(t, reg, "cam-1", "Front Door")
	relay.HandleAgentMessage(agent, []byte(`{"event":"motion","data":{}}`))

	relay.EvictAgent("cam-1")
	assert.Empty(t, relay.Events().Take("cam-1"))
}
