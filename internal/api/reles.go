package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/modbus-mw/internal/device"
)

// faultDetail is the latest fault of a relay.
type faultDetail struct {
	Timestamp string `json:"timestamp"`
	Detail    string `json:"detail"`
}

// faultItem is one relay in GET /api/reles/faults.
type faultItem struct {
	ModbusID    int          `json:"id_modbus"`
	Description string       `json:"description"`
	Latest      *faultDetail `json:"latest"`
}

// observerRequest is the body of POST /api/reles/observer.
type observerRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleRelayHistory serves GET /api/reles/history?rele_id&window&page.
func (s *Server) handleRelayHistory(w http.ResponseWriter, r *http.Request) {
	s.serveHistory(w, r, s.relayHistory, "rele_id", "relay")
}

// handleRelayFaults lists every active relay with its most recent fault.
func (s *Server) handleRelayFaults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	relays, err := s.relays.List(ctx)
	if err != nil {
		s.logger.Error("listing relays failed", "error", err)
		writeInternalError(w, "failed to list relays")
		return
	}

	items := make([]faultItem, 0, len(relays))
	for _, rel := range relays {
		internalID, err := s.relays.InternalID(ctx, rel.ID)
		if errors.Is(err, device.ErrDeviceNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error("resolving relay id failed", "id_modbus", rel.ID, "error", err)
			writeInternalError(w, "failed to resolve relay")
			return
		}

		item := faultItem{ModbusID: rel.ID, Description: rel.Description}
		latest, err := s.faults.LatestFault(ctx, internalID)
		if err != nil {
			s.logger.Error("loading relay fault failed", "id_modbus", rel.ID, "error", err)
			writeInternalError(w, "failed to load faults")
			return
		}
		if latest != nil {
			item.Latest = &faultDetail{
				Timestamp: device.FormatTimestamp(latest.Timestamp),
				Detail:    latest.Detail,
			}
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleGetObserver returns the relay observer switch.
func (s *Server) handleGetObserver(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.flags.RelaysEnabled()})
}

// handleSetObserver persists the relay observer switch. The relay loop picks
// the new value up on its next tick.
func (s *Server) handleSetObserver(w http.ResponseWriter, r *http.Request) {
	var req observerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeBadRequest(w, "enabled is required")
		return
	}

	if err := s.flags.SetRelaysEnabled(*req.Enabled); err != nil {
		s.logger.Error("persisting observer flag failed", "error", err)
		writeInternalError(w, "failed to persist observer flag")
		return
	}

	s.logger.Info("relay observer changed", "enabled", *req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}
