// ABOUTME: Minimal fake agent for E2E testing — connects via websocket, answers commands.
// ABOUTME: Usage: fake-agent [-addr localhost:8000] [-name "Fake Camera"]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var start = time.Now()

func main() {
	addr := flag.String("addr", "localhost:8000", "gateway HTTP address")
	name := flag.String("name", "Fake Camera", "agent display name")
	agentID := flag.String("id", "e2e-fake-agent", "agent device id")
	flag.Parse()

	if err := run(*addr, *name, *agentID); err != nil {
		log.Fatal(err)
	}
}

func run(addr, name, agentID string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	wsURL := fmt.Sprintf("ws://%s/ws/%s/%s", addr, url.PathEscape(agentID), url.PathEscape(name))
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	log.Printf("connected as %s (%s)", agentID, name)

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	// Emit a status event every 15s so panels see traffic.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				evt := fmt.Sprintf(`{"event":"status","data":{"uptime":"%s"}}`, time.Since(start).Round(time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, []byte(evt)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var cmd struct {
			Action  string          `json:"action"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(raw, &cmd); err != nil {
			log.Printf("ignoring malformed command: %s", raw)
			continue
		}

		log.Printf("command: %s", cmd.Action)
		switch cmd.Action {
		case "get_thumbnails":
			if err := submitThumbnails(ctx, addr, agentID); err != nil {
				log.Printf("submitting thumbnails: %v", err)
			}
		default:
			ack := fmt.Sprintf(`{"event":"command_ack","data":{"action":%q}}`, cmd.Action)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(ack)); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

// submitThumbnails pushes a small fake listing in two chunks, the way a
// real device streams its media index.
func submitThumbnails(ctx context.Context, addr, agentID string) error {
	chunks := []string{
		`{"thumbnails":[{"filename":"clip-001.jpg","size":2048},{"filename":"clip-002.jpg","size":4096}],"is_final_chunk":false}`,
		`{"thumbnails":[{"filename":"clip-003.jpg","size":1024}],"is_final_chunk":true}`,
	}

	endpoint := fmt.Sprintf("http://%s/api/submit_media_chunk/%s", addr, url.PathEscape(agentID))
	for _, chunk := range chunks {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(chunk))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("chunk rejected: status %d", resp.StatusCode)
		}
	}
	return nil
}
