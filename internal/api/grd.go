package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/modbus-mw/internal/device"
	"github.com/nerrad567/modbus-mw/internal/history"
	"github.com/nerrad567/modbus-mw/internal/monitor"
)

// defaultWindow is used when the window query parameter is absent.
const defaultWindow = "1sem"

// disconnectedEntry is one row of the summary's disconnected list.
type disconnectedEntry struct {
	DeviceID                  int    `json:"device_id"`
	Description               string `json:"description"`
	LastDisconnectedTimestamp string `json:"last_disconnected_timestamp"`
}

// summaryResponse is the body of GET /api/grd/summary.
type summaryResponse struct {
	Summary      monitor.Aggregate   `json:"summary"`
	States       map[int]bool        `json:"states"`
	Disconnected []disconnectedEntry `json:"disconnected"`
}

// handleGRDDescriptions returns the GRD catalog as {items: {id: description}}.
func (s *Server) handleGRDDescriptions(w http.ResponseWriter, r *http.Request) {
	items, err := s.grds.All(r.Context())
	if err != nil {
		s.logger.Error("listing grd descriptions failed", "error", err)
		writeInternalError(w, "failed to list GRDs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleGRDSummary returns the fleet percentage computed from the latest
// recorded state of every GRD, plus the currently disconnected ones.
func (s *Server) handleGRDSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	states, err := s.grdStates.LatestStates(ctx)
	if err != nil {
		s.logger.Error("loading grd states failed", "error", err)
		writeInternalError(w, "failed to load GRD states")
		return
	}
	down, err := s.grdStates.AllDisconnected(ctx)
	if err != nil {
		s.logger.Error("loading disconnected grds failed", "error", err)
		writeInternalError(w, "failed to load disconnected GRDs")
		return
	}

	connected := 0
	for _, up := range states {
		if up {
			connected++
		}
	}

	resp := summaryResponse{
		Summary:      monitor.NewAggregate(len(states), connected, s.now()),
		States:       states,
		Disconnected: make([]disconnectedEntry, 0, len(down)),
	}
	for _, d := range down {
		resp.Disconnected = append(resp.Disconnected, disconnectedEntry{
			DeviceID:                  d.DeviceID,
			Description:               d.Description,
			LastDisconnectedTimestamp: device.FormatTimestamp(d.LastDisconnected),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGRDHistory serves GET /api/grd/history?grd_id&window&page.
func (s *Server) handleGRDHistory(w http.ResponseWriter, r *http.Request) {
	s.serveHistory(w, r, s.grdHistory, "grd_id", "GRD")
}

// serveHistory parses the shared history parameters and runs the query.
func (s *Server) serveHistory(w http.ResponseWriter, r *http.Request, q HistoryQuerier, idParam, label string) {
	query := r.URL.Query()

	id, err := strconv.Atoi(query.Get(idParam))
	if err != nil {
		writeBadRequest(w, idParam+" must be an integer")
		return
	}

	page := 0
	if raw := query.Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "page must be an integer")
			return
		}
	}

	window := query.Get("window")
	if window == "" {
		window = defaultWindow
	}

	payload, err := q.Query(r.Context(), id, history.ParseWindow(window), page)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, label+" not found")
			return
		}
		s.logger.Error("history query failed", "device", label, "id", id, "error", err)
		writeInternalError(w, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
