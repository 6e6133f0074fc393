// ABOUTME: Websocket transport for persistent agent and panel connections.
// ABOUTME: Identity comes from the URL path; disconnects are tied to the instance.

package gateway

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/fleetgate/fleetgate/internal/protocol"
	"github.com/fleetgate/fleetgate/internal/registry"
)

const (
	// writeWait bounds a single message write to a peer.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent before the read
	// side gives up on it.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait so the peer always has a
	// ping to answer before the deadline.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames. Thumbnail listings travel over
	// the chunked HTTP path, so event frames stay small.
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Agents and panels connect from device-local clients without an
	// Origin header the gateway could meaningfully check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a websocket connection to the registry Sender
// interface. The mutex serializes writers from the command router, the
// relay, and the ping ticker onto the single underlying socket.
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(sock *websocket.Conn) *wsConn {
	return &wsConn{conn: sock, done: make(chan struct{})}
}

func (c *wsConn) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// handleWS handles GET /ws/{device_id}/{device_name}. The path carries
// the device identity; ?type=panel attaches as a controller, anything
// else as an agent. Identity problems are rejected before the upgrade
// so the client gets a proper HTTP status.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSpace(pathParam(r, "device_id"))
	deviceName := strings.TrimSpace(pathParam(r, "device_name"))

	if deviceID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "device id is required")
		return
	}
	if deviceName == "" {
		deviceName = deviceID
	}

	role := protocol.RoleAgent
	if r.URL.Query().Get("type") == "panel" {
		role = protocol.RolePanel
	}

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		g.logger.Warn("websocket upgrade failed", "device_id", deviceID, "error", err)
		return
	}

	sender := newWSConn(sock)
	conn := registry.NewConn(deviceID, role, deviceName, sender)

	if replaced := g.registry.Register(conn); replaced != nil {
		// The old transport is orphaned; its read pump will exit and its
		// disconnect will no-op against the fresh ConnID.
		_ = replaced.Sender.Close()
	}

	switch role {
	case protocol.RolePanel:
		if err := g.relay.SendDirectory(conn); err != nil {
			g.logger.Warn("initial directory push failed", "device_id", deviceID, "error", err)
		}
	default:
		g.relay.BroadcastDirectory()
	}

	go g.pingLoop(sender)
	go g.readPump(conn, sender)
}

// readPump consumes inbound frames until the connection dies, then
// runs the disconnect sequence exactly once for this instance.
func (g *Gateway) readPump(conn *registry.Conn, sender *wsConn) {
	defer g.disconnect(conn)

	sock := sender.conn
	sock.SetReadLimit(maxMessageSize)
	_ = sock.SetReadDeadline(time.Now().Add(pongWait))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Warn("websocket read error",
					"device_id", conn.ID,
					"role", conn.Role,
					"error", err,
				)
			}
			return
		}

		if conn.Role == protocol.RoleAgent {
			g.relay.HandleAgentMessage(conn, raw)
			continue
		}
		// Panels command agents over the HTTP API; inbound panel frames
		// carry nothing the gateway acts on.
		g.logger.Debug("ignoring panel frame", "device_id", conn.ID, "bytes", len(raw))
	}
}

// pingLoop keeps the connection's read deadline fed. A failed ping
// closes the socket, which unwinds the read pump and triggers the
// disconnect sequence. Closing the connection stops the loop.
func (g *Gateway) pingLoop(sender *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := sender.ping(); err != nil {
				_ = sender.Close()
				return
			}
		case <-sender.done:
			return
		}
	}
}

// disconnect removes this connection instance from the registry and
// cleans up agent state. The entry comes out of the registry before
// the transport closes so the router never looks up a dead socket.
// The ConnID match makes a late disconnect from a replaced connection
// a no-op: the replacement's registry entry and media cache survive
// untouched.
func (g *Gateway) disconnect(conn *registry.Conn) {
	removed, ok := g.registry.Unregister(conn.ID, conn.Role, conn.ConnID)
	_ = conn.Sender.Close()
	if !ok {
		return
	}

	if removed.Role == protocol.RoleAgent {
		g.media.EvictDevice(removed.ID)
		g.relay.EvictAgent(removed.ID)
		g.relay.BroadcastDirectory()
	}
}

// pathParam returns a chi URL parameter with percent-encoding undone,
// so a device name like "Front%20Door" registers as "Front Door".
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}
