package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// denyBadRequest answers a body the resolver never sees.
const denyBadRequest = "bad_request"

func delegateFields(resp types.DelegateResponse) map[string]any {
	f := map[string]any{"allow": resp.Allow}
	if resp.Message != "" {
		f["message"] = resp.Message
	}
	return f
}

// handleDelegate always answers in delegate shape so the controller can act
// on it. Anything short of a decision is a deny.
func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	body, err := readHardwareJSON(r, maxDelegateBody)
	if err != nil {
		deny := types.DelegateResponse{Message: denyBadRequest}
		writeHardware(w, r, http.StatusBadRequest, delegateFields(deny), deny)
		return
	}
	var req types.DelegateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		deny := types.DelegateResponse{Message: denyBadRequest}
		writeHardware(w, r, http.StatusBadRequest, delegateFields(deny), deny)
		return
	}
	req.Raw = body

	resp := s.delegate.DecideWithin(r.Context(), req, s.hardwareTimeout)
	writeHardware(w, r, http.StatusOK, delegateFields(resp), resp)
}

// handleEvents acknowledges the highest logId it stored. Any failure is a
// non-2xx so the poller resends the batch.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := readHardwareJSON(r, maxEventsBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, "bad_request", err.Error())
		return
	}
	var req types.EventsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.events.Ingest(r.Context(), req.Logs)
	if err != nil {
		s.logger.Printf("events ingest error: %v", err)
		writeError(w, http.StatusServiceUnavailable, "ingest_failed", "events not stored, retry")
		return
	}

	fields := map[string]any{"confirmedLogId": nil}
	if resp.ConfirmedLogID != nil {
		fields["confirmedLogId"] = *resp.ConfirmedLogID
	}
	writeHardware(w, r, http.StatusOK, fields, resp)
}
