// ABOUTME: HTTP API handlers for panel commands and agent media submission.
// ABOUTME: Every error is a JSON body; raw 5xx pages never reach clients.

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fleetgate/fleetgate/internal/mediacache"
	"github.com/fleetgate/fleetgate/internal/protocol"
	"github.com/fleetgate/fleetgate/internal/relay"
)

var validate = newValidator()

// newValidator reports field names by their json tag so validation
// errors match the wire format clients actually send.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// SendCommandRequest is the JSON request body for POST /api/send-command.
type SendCommandRequest struct {
	TargetID string          `json:"target_id" validate:"required"`
	Action   string          `json:"action" validate:"required"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// MediaChunkRequest is the JSON request body for
// POST /api/submit_media_chunk/{device_id}.
type MediaChunkRequest struct {
	Thumbnails   []mediacache.Thumbnail `json:"thumbnails"`
	IsFinalChunk bool                   `json:"is_final_chunk"`
}

// MediaListResponse is the JSON response for GET /api/get_media_list/{device_id}.
type MediaListResponse struct {
	FetchStatus string                 `json:"fetch_status"`
	Media       []mediacache.Thumbnail `json:"media"`
}

// handleListAgents handles GET /api/agents requests.
// It returns a JSON array of all connected agents.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.registry.AgentSummaries())
}

// handleSendCommand handles POST /api/send-command requests. The target
// is resolved at delivery time; an absent agent is a 404, a dead
// connection discovered mid-write is a 502.
func (g *Gateway) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	var req SendCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	cmd := protocol.Command{
		TargetID: req.TargetID,
		Action:   req.Action,
		Payload:  req.Payload,
	}

	err := g.router.Route(r.Context(), cmd)
	switch {
	case err == nil:
		g.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	case errors.Is(err, relay.ErrTargetNotConnected):
		g.sendJSONError(w, http.StatusNotFound, "agent "+req.TargetID+" is not connected")
	case errors.Is(err, relay.ErrDeliveryFailed):
		g.sendJSONError(w, http.StatusBadGateway, "delivery to agent "+req.TargetID+" failed")
	default:
		g.logger.Error("send-command failed", "target_id", req.TargetID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleSubmitMediaChunk handles POST /api/submit_media_chunk/{device_id}.
// Chunks accumulate until is_final_chunk marks the fetch complete.
func (g *Gateway) handleSubmitMediaChunk(w http.ResponseWriter, r *http.Request) {
	deviceID := pathParam(r, "device_id")

	var req MediaChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	total := g.media.AppendChunk(deviceID, req.Thumbnails, req.IsFinalChunk)
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"total":  total,
	})
}

// handleMediaList handles GET /api/get_media_list/{device_id}. An
// unknown device yields an empty list, not an error: the panel polls
// this before the first chunk lands.
func (g *Gateway) handleMediaList(w http.ResponseWriter, r *http.Request) {
	deviceID := pathParam(r, "device_id")
	g.writeJSON(w, http.StatusOK, MediaListResponse{
		FetchStatus: string(g.media.Status(deviceID)),
		Media:       g.media.List(deviceID),
	})
}

// handleFetchStatus handles GET /api/fetch_status/{device_id}.
func (g *Gateway) handleFetchStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := pathParam(r, "device_id")
	g.writeJSON(w, http.StatusOK, map[string]string{
		"fetch_status": string(g.media.Status(deviceID)),
	})
}

// handleAgentEvents handles GET /api/agent_events/{device_id}. In
// mailbox relay mode this drains the stored events for one agent;
// in broadcast mode the store is simply always empty.
func (g *Gateway) handleAgentEvents(w http.ResponseWriter, r *http.Request) {
	deviceID := pathParam(r, "device_id")
	g.writeJSON(w, http.StatusOK, g.relay.Events().Take(deviceID))
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(g.logger, w, status, payload)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	sendJSONError(g.logger, w, status, message)
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("encoding response", "error", err)
	}
}

func sendJSONError(logger *slog.Logger, w http.ResponseWriter, status int, message string) {
	writeJSON(logger, w, status, map[string]string{
		"status":  "error",
		"message": message,
	})
}

// validationMessage flattens a validator error into a field list a
// client can act on.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return "missing required fields: " + strings.Join(fields, ", ")
}
