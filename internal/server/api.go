package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"streamwsm/internal/discovery"
	"streamwsm/internal/model"
	"streamwsm/internal/serviceapi"
)

func (r *Runtime) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc(discovery.HealthPath, r.handleHealth)
	mux.HandleFunc("/streams", r.handleStreams)
	mux.HandleFunc("/streams/archive-bulk", r.handleArchiveBulk)
	mux.HandleFunc("/streams/", r.handleStreamAction)
	mux.HandleFunc("/stats", r.handleStats)
	mux.HandleFunc("/sync", r.handleSync)
	mux.HandleFunc("/reconcile", r.handleReconcile)
}

func (r *Runtime) handleStreams(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		filter := model.StreamFilter{
			Status:   model.StreamStatus(strings.TrimSpace(req.URL.Query().Get("status"))),
			Category: model.StreamCategory(strings.TrimSpace(req.URL.Query().Get("category"))),
			Priority: model.StreamPriority(strings.TrimSpace(req.URL.Query().Get("priority"))),
		}
		streams, err := r.service.ListStreams(req.Context(), filter)
		if err != nil {
			writeCoreError(w, "list_streams_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"streams": streams})
	case http.MethodPost:
		var payload model.Stream
		if err := decodeJSON(req, &payload); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		created, err := r.service.CreateStream(req.Context(), payload)
		if err != nil {
			writeCoreError(w, "create_stream_failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"stream": created})
	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET and POST are supported")
	}
}

func (r *Runtime) handleStreamAction(w http.ResponseWriter, req *http.Request) {
	path := strings.Trim(strings.TrimPrefix(req.URL.Path, "/streams/"), "/")
	segments := strings.Split(path, "/")
	id := strings.TrimSpace(segments[0])
	if id == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_stream_id", "stream id is required")
		return
	}

	if len(segments) == 1 {
		switch req.Method {
		case http.MethodGet:
			stream, err := r.service.GetStream(req.Context(), id)
			if err != nil {
				writeCoreError(w, "get_stream_failed", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"stream": stream})
		case http.MethodPatch:
			var update model.StreamUpdate
			if err := decodeJSON(req, &update); err != nil {
				writeAPIError(w, http.StatusBadRequest, "invalid_json", err.Error())
				return
			}
			outcome, err := r.service.UpdateStream(req.Context(), id, update)
			if err != nil {
				writeCoreError(w, "update_stream_failed", err)
				return
			}
			writeJSON(w, http.StatusOK, outcome)
		default:
			writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET and PATCH are supported")
		}
		return
	}

	if len(segments) != 2 {
		writeAPIError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}
	switch segments[1] {
	case "complete":
		if req.Method != http.MethodPost {
			writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
			return
		}
		stream, err := r.service.CompleteStream(req.Context(), id)
		if err != nil {
			writeCoreError(w, "complete_stream_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stream": stream})
	case "history":
		if req.Method != http.MethodGet {
			writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
			return
		}
		events, err := r.service.StreamHistory(req.Context(), id)
		if err != nil {
			writeCoreError(w, "stream_history_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	case "archive":
		if req.Method != http.MethodPost {
			writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
			return
		}
		var payload serviceapi.RetireRequest
		if err := decodeJSON(req, &payload); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		result, err := r.service.ArchiveStream(req.Context(), id, payload)
		if err != nil {
			writeCoreError(w, "archive_stream_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeAPIError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (r *Runtime) handleArchiveBulk(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	var payload struct {
		StreamIDs []string `json:"stream_ids"`
		serviceapi.RetireRequest
	}
	if err := decodeJSON(req, &payload); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(payload.StreamIDs) == 0 {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "stream_ids is required")
		return
	}
	results := r.service.ArchiveBulk(req.Context(), payload.StreamIDs, payload.RetireRequest)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (r *Runtime) handleStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}
	stats, err := r.service.Stats(req.Context())
	if err != nil {
		writeCoreError(w, "stats_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (r *Runtime) handleSync(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	result, err := r.service.Scan(req.Context())
	if err != nil {
		writeCoreError(w, "scan_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scan": result})
}

func (r *Runtime) handleReconcile(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	var opts serviceapi.ReconcileOptions
	if req.ContentLength > 0 {
		if err := decodeJSON(req, &opts); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
	}
	report, err := r.service.Reconcile(req.Context(), opts)
	if err != nil {
		writeCoreError(w, "reconcile_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

// writeCoreError maps the error taxonomy onto status codes: validation and
// conflict are the caller's fault, unknown ids are 404, the rest is a 500
// with the underlying detail string.
func writeCoreError(w http.ResponseWriter, code string, err error) {
	switch {
	case model.IsValidation(err):
		writeAPIError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case model.IsConflict(err):
		writeAPIError(w, http.StatusConflict, "conflict", err.Error())
	case model.IsNotFound(err):
		writeAPIError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		writeAPIError(w, http.StatusInternalServerError, code, err.Error())
	}
}

func decodeJSON(req *http.Request, out any) error {
	if req.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer req.Body.Close()
	decoder := json.NewDecoder(req.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeAPIError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": apiError{Code: code, Message: strings.TrimSpace(message)},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
