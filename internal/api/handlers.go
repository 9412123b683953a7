package api

import (
    "encoding/json"
    "errors"
    "net/http"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog/log"

    "github.com/petal-ejector/petal-controller/internal/auth"
    "github.com/petal-ejector/petal-controller/internal/session"
)

// ========== Auth handlers ==========

// HandleLogin handles operator login
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
    if s.auth == nil {
        s.respondError(w, http.StatusNotFound, "authentication is disabled")
        return
    }

    var req struct {
        Username string `json:"username" validate:"required"`
        Password string `json:"password" validate:"required"`
    }

    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        s.respondError(w, http.StatusBadRequest, "invalid request body")
        return
    }

    if err := s.validator.Validate(req); err != nil {
        s.respondError(w, http.StatusBadRequest, err.Error())
        return
    }

    token, err := s.auth.Login(req.Username, req.Password)
    if err != nil {
        if errors.Is(err, auth.ErrInvalidCredentials) {
            log.Warn().Str("username", req.Username).Msg("Rejected operator login")
            s.respondError(w, http.StatusUnauthorized, "invalid credentials")
            return
        }
        s.respondError(w, http.StatusInternalServerError, "failed to generate token")
        return
    }

    s.respondJSON(w, http.StatusOK, map[string]interface{}{
        "access_token": token,
        "expires_in":   int(s.auth.TTL().Seconds()),
        "token_type":   "Bearer",
    })
}

// ========== Session handlers ==========

// HandleGetSession returns the session snapshot
func (s *RESTServer) HandleGetSession(w http.ResponseWriter, r *http.Request) {
    s.respondJSON(w, http.StatusOK, s.session.State().Snapshot())
}

// HandleSelectMode selects network or keyboard mode
func (s *RESTServer) HandleSelectMode(w http.ResponseWriter, r *http.Request) {
    var req struct {
        Mode string `json:"mode" validate:"required,oneof=network keyboard"`
    }
    if !s.decode(w, r, &req) {
        return
    }

    mode, _ := session.ParseMode(req.Mode)
    s.dispatch(w, r, session.SelectMode{Mode: mode})
}

// HandleBack returns to mode selection
func (s *RESTServer) HandleBack(w http.ResponseWriter, r *http.Request) {
    s.dispatch(w, r, session.BackToModeSelection{})
}

// HandleConnect toggles the connection. The address is only read when
// the session is disconnected.
func (s *RESTServer) HandleConnect(w http.ResponseWriter, r *http.Request) {
    var req struct {
        Address string `json:"address" validate:"max=253"`
    }
    if r.ContentLength != 0 && !s.decode(w, r, &req) {
        return
    }

    s.dispatch(w, r, session.Connect{Address: req.Address})
}

// HandleActivate drops the next petal
func (s *RESTServer) HandleActivate(w http.ResponseWriter, r *http.Request) {
    s.dispatch(w, r, session.ActivateNext{})
}

// HandleReset resets the cycle once every petal has dropped
func (s *RESTServer) HandleReset(w http.ResponseWriter, r *http.Request) {
    s.dispatch(w, r, session.Reset{})
}

// HandleToggleKeyboard arms or disarms keyboard mode
func (s *RESTServer) HandleToggleKeyboard(w http.ResponseWriter, r *http.Request) {
    s.dispatch(w, r, session.ToggleKeyboard{})
}

// HandleKeyPress forwards a key press from the control panel
func (s *RESTServer) HandleKeyPress(w http.ResponseWriter, r *http.Request) {
    var req struct {
        Key string `json:"key" validate:"required,max=5"`
    }
    if !s.decode(w, r, &req) {
        return
    }

    key := req.Key
    if strings.EqualFold(key, "space") {
        key = " "
    }
    s.dispatch(w, r, session.KeyPress{Key: key})
}

// ========== Log handlers ==========

// HandleGetLog lists log entries, oldest first. ?since=<id> returns only
// entries after that one; ?format=text returns the rendered lines.
func (s *RESTServer) HandleGetLog(w http.ResponseWriter, r *http.Request) {
    entries := s.session.Log().Entries()

    if since := r.URL.Query().Get("since"); since != "" {
        id, err := uuid.Parse(since)
        if err != nil {
            s.respondError(w, http.StatusBadRequest, "invalid entry id")
            return
        }
        entries = s.session.Log().Since(id)
    }

    if r.URL.Query().Get("format") == "text" {
        w.Header().Set("Content-Type", "text/plain; charset=utf-8")
        w.WriteHeader(http.StatusOK)
        for _, e := range entries {
            w.Write([]byte(e.String() + "\n"))
        }
        return
    }

    s.respondJSON(w, http.StatusOK, map[string]interface{}{
        "entries": entries,
        "total":   len(entries),
    })
}

// HandleClearLog empties the session log
func (s *RESTServer) HandleClearLog(w http.ResponseWriter, r *http.Request) {
    if _, err := s.session.Dispatch(r.Context(), session.ClearLog{}); err != nil {
        s.respondError(w, http.StatusServiceUnavailable, err.Error())
        return
    }
    w.WriteHeader(http.StatusNoContent)
}

// ========== System handlers ==========

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
    s.respondJSON(w, http.StatusOK, map[string]interface{}{
        "status":  "healthy",
        "time":    time.Now(),
        "clients": s.hub.Len(),
    })
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
    s.respondJSON(w, http.StatusOK, map[string]interface{}{
        "service": s.config.Server.Name,
        "version": s.config.Server.Version,
        "health":  "/api/v1/health",
        "stream":  "/api/v1/stream",
        "auth":    s.auth != nil,
    })
}

// ========== Helpers ==========

// decode reads and validates a JSON body, answering 400 on failure
func (s *RESTServer) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
    if err := json.NewDecoder(r.Body).Decode(v); err != nil {
        s.respondError(w, http.StatusBadRequest, "invalid request body")
        return false
    }
    if err := s.validator.Validate(v); err != nil {
        s.respondError(w, http.StatusBadRequest, err.Error())
        return false
    }
    return true
}

// dispatch applies an event and answers with the resulting snapshot.
// Controls that do not apply in the current state leave it unchanged.
func (s *RESTServer) dispatch(w http.ResponseWriter, r *http.Request, ev session.Event) {
    state, err := s.session.Dispatch(r.Context(), ev)
    if err != nil {
        if errors.Is(err, session.ErrStopped) {
            s.respondError(w, http.StatusServiceUnavailable, "session controller stopped")
            return
        }
        s.respondError(w, http.StatusInternalServerError, err.Error())
        return
    }

    s.respondJSON(w, http.StatusOK, state.Snapshot())
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
    response, err := json.Marshal(payload)
    if err != nil {
        log.Error().Err(err).Msg("Failed to marshal response")
        w.WriteHeader(http.StatusInternalServerError)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
    s.respondJSON(w, status, map[string]string{
        "error": message,
    })
}
