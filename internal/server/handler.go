package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/notedeck/notedeck/internal/engine"
	"github.com/notedeck/notedeck/internal/schema"
)

// userID extracts the authenticated caller from the request. Returns ""
// (after writing a 401) when absent.
func (s *Server) userID(w http.ResponseWriter, r *http.Request) string {
	user := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if user == "" {
		http.Error(w, "missing X-User-ID header", http.StatusUnauthorized)
	}
	return user
}

// writeJSON encodes a response body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Printf("Failed to encode response: %v", err)
	}
}

// handleInitialSync handles GET /api/sync.
//
// Query parameters: token (optional previous sync token), tables (optional
// comma-separated table list).
func (s *Server) handleInitialSync(w http.ResponseWriter, r *http.Request) {
	user := s.userID(w, r)
	if user == "" {
		return
	}

	var tables []schema.Table
	if raw := r.URL.Query().Get("tables"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			tables = append(tables, schema.Table(strings.TrimSpace(name)))
		}
	}

	result, err := s.engine.GetInitialSync(r.Context(), user, r.URL.Query().Get("token"), tables)
	if err != nil {
		s.logger.Printf("Initial sync failed for user %s: %v", user, err)
		http.Error(w, "sync failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleDeltaSync handles POST /api/sync: the full reconciliation exchange.
func (s *Server) handleDeltaSync(w http.ResponseWriter, r *http.Request) {
	user := s.userID(w, r)
	if user == "" {
		return
	}

	var req engine.DeltaSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.engine.ProcessDeltaSync(r.Context(), user, req)
	if err != nil {
		s.logger.Printf("Delta sync failed for user %s: %v", user, err)
		http.Error(w, "sync failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.notifyOutcomes(user, result.ProcessedChanges)
	s.writeJSON(w, http.StatusOK, result)
}

// handleEnqueue handles POST /api/queue: park a change for later drain.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	user := s.userID(w, r)
	if user == "" {
		return
	}

	var change schema.PendingChange
	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.queue.Enqueue(r.Context(), user, change); err != nil {
		http.Error(w, "enqueue failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleDrain handles POST /api/queue/drain: process the caller's queue now.
func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	user := s.userID(w, r)
	if user == "" {
		return
	}

	result, err := s.queue.Drain(r.Context(), user)
	if err != nil {
		http.Error(w, "drain failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleQueueStats handles GET /api/queue.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	user := s.userID(w, r)
	if user == "" {
		return
	}

	stats, err := s.queue.Stats(r.Context(), user)
	if err != nil {
		http.Error(w, "stats failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// notifyOutcomes broadcasts applied changes to WebSocket observers.
func (s *Server) notifyOutcomes(user string, outcomes []schema.ProcessedChange) {
	summary := SyncCompleteData{UserID: user}

	for _, outcome := range outcomes {
		switch outcome.Status {
		case schema.StatusSuccess:
			summary.Applied++

			event := RecordEventData{
				Table:    outcome.Table,
				RecordID: outcome.RecordID,
				Version:  outcome.Version,
				Action:   "update",
			}
			msgType := MessageTypeRecordUpdate
			if outcome.Version == 0 {
				event.Action = "delete"
				msgType = MessageTypeRecordDelete
			} else if outcome.Version == 1 {
				event.Action = "create"
			}

			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			s.Broadcast(Message{Type: msgType, Timestamp: time.Now(), Data: data})

		case schema.StatusConflict:
			summary.Conflicts++
		case schema.StatusError:
			summary.Errors++
		}
	}

	if len(outcomes) > 0 {
		data, err := json.Marshal(summary)
		if err != nil {
			return
		}
		s.Broadcast(Message{Type: MessageTypeSyncComplete, Timestamp: time.Now(), Data: data})
	}
}
