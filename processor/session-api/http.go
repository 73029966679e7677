package sessionapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/c360studio/sessionflow/engine"
	"github.com/c360studio/sessionflow/session"
	"github.com/c360studio/sessionflow/storage"
)

// RegisterHTTPHandlers registers HTTP handlers for the session-api component.
// The prefix includes the trailing slash (e.g., "/session-api/").
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc(prefix+"sessions", c.guard(c.handleSessions))
	mux.HandleFunc(prefix+"sessions/", c.guard(c.handleSession))
}

// guard recovers tenancy violations into 403 responses. A violation is a
// programmer error inside the service, but over HTTP it means the caller's
// scope headers don't own the session.
func (c *Component) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				var violation *session.TenancyViolation
				if err, ok := rec.(error); ok && errors.As(err, &violation) {
					http.Error(w, "Session not owned by caller account", http.StatusForbidden)
					return
				}
				panic(rec)
			}
		}()
		next(w, r)
	}
}

// scopeFromRequest builds the caller scope from gateway-injected headers.
func scopeFromRequest(r *http.Request) (session.Scope, bool) {
	scope := session.Scope{
		UserID:    r.Header.Get("X-User-ID"),
		AccountID: r.Header.Get("X-Account-ID"),
		ProjectID: r.Header.Get("X-Project-ID"),
	}
	return scope, scope.AccountID != ""
}

// handleSessions handles POST (create) and GET (list) on /sessions.
func (c *Component) handleSessions(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromRequest(r)
	if !ok {
		http.Error(w, "X-Account-ID header required", http.StatusBadRequest)
		return
	}

	eng, err := c.getEngine(r.Context())
	if err != nil {
		c.logger.Error("Session engine unavailable", "error", err)
		http.Error(w, "Session engine not available", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var attrs session.Attrs
		if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		sess, err := eng.Create(r.Context(), scope, attrs)
		if err != nil {
			c.writeError(w, err)
			return
		}
		c.writeJSON(w, http.StatusCreated, sess)

	case http.MethodGet:
		sessions, err := eng.List(r.Context(), scope)
		if err != nil {
			c.writeError(w, err)
			return
		}
		c.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSession handles /sessions/{id} and its sub-endpoints.
func (c *Component) handleSession(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFromRequest(r)
	if !ok {
		http.Error(w, "X-Account-ID header required", http.StatusBadRequest)
		return
	}

	id, endpoint := extractIDAndEndpoint(r.URL.Path)
	if id == "" {
		http.Error(w, "Session id required", http.StatusBadRequest)
		return
	}

	eng, err := c.getEngine(r.Context())
	if err != nil {
		c.logger.Error("Session engine unavailable", "error", err)
		http.Error(w, "Session engine not available", http.StatusServiceUnavailable)
		return
	}

	switch {
	case endpoint == "" && r.Method == http.MethodGet:
		sess, err := eng.Get(r.Context(), scope, id)
		if err != nil {
			c.writeError(w, err)
			return
		}
		c.writeJSON(w, http.StatusOK, sess)

	case endpoint == "next-command" && r.Method == http.MethodPost:
		opts := engine.NextOptions{Regenerate: r.URL.Query().Get("regenerate") == "true"}
		interaction, err := eng.NextCommand(r.Context(), scope, id, opts)
		if err != nil {
			c.writeError(w, err)
			return
		}
		c.writeJSON(w, http.StatusOK, interaction)

	case endpoint == "execute" && r.Method == http.MethodPost:
		interaction, err := eng.Execute(r.Context(), scope, id)
		if err != nil {
			c.writeError(w, err)
			return
		}
		c.writeJSON(w, http.StatusOK, interaction)

	case endpoint == "result" && r.Method == http.MethodPost:
		var body struct {
			InteractionID string            `json:"interaction_id"`
			Result        session.RawResult `json:"result"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if body.InteractionID == "" {
			http.Error(w, "interaction_id required", http.StatusBadRequest)
			return
		}
		sess, err := eng.HandleResult(r.Context(), scope, id, body.InteractionID, body.Result)
		if err != nil {
			c.writeError(w, err)
			return
		}
		c.writeJSON(w, http.StatusOK, sess)

	case endpoint == "execution-mode" && r.Method == http.MethodPut:
		var body struct {
			ExecutionMode session.ExecutionMode `json:"execution_mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		sess, err := eng.UpdateExecutionMode(r.Context(), scope, id, body.ExecutionMode)
		if err != nil {
			c.writeError(w, err)
			return
		}
		c.writeJSON(w, http.StatusOK, sess)

	default:
		http.Error(w, "Unknown endpoint", http.StatusNotFound)
	}
}

// writeError maps domain errors onto HTTP status codes.
func (c *Component) writeError(w http.ResponseWriter, err error) {
	var attrsErr *session.AttrsError
	var staleErr *session.StaleInteractionError

	switch {
	case errors.As(err, &attrsErr):
		c.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid session attrs",
			"fields": attrsErr.Fields,
		})
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrComplete):
		c.writeJSON(w, http.StatusConflict, map[string]any{"error": "complete"})
	case errors.Is(err, session.ErrNoPending):
		c.writeJSON(w, http.StatusConflict, map[string]any{"error": "no pending interaction"})
	case errors.As(err, &staleErr):
		c.writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "stale interaction",
			"delivered":  staleErr.Delivered,
			"pending_id": staleErr.Pending,
		})
	default:
		c.logger.Error("Session request failed", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func (c *Component) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		c.logger.Warn("Failed to write response", "error", err)
	}
}

// extractIDAndEndpoint splits a path like /session-api/sessions/{id}/result
// into the session id and trailing endpoint.
func extractIDAndEndpoint(path string) (id, endpoint string) {
	idx := strings.Index(path, "/sessions/")
	if idx == -1 {
		return "", ""
	}

	remainder := path[idx+len("/sessions/"):]
	parts := strings.SplitN(remainder, "/", 2)
	if len(parts) == 0 {
		return "", ""
	}

	id = parts[0]
	if len(parts) > 1 {
		endpoint = strings.TrimSuffix(parts[1], "/")
	}
	return id, endpoint
}
