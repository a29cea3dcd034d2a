// Package ws exposes the engine over HTTP and WebSocket: the intent channel
// flows client-to-engine over the socket, the event channel flows back.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"codesession/internal/engine"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Server struct {
	engine *engine.Engine
}

func NewServer(eng *engine.Engine) *Server {
	return &Server{engine: eng}
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/sessions", s.handleCreateSession).Methods(http.MethodPost)
	router.HandleFunc("/api/sessions", s.handleListSessions).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions/{sessionID}", s.handleGetSession).Methods(http.MethodGet)
	router.HandleFunc("/ws/{sessionID}", s.handleSocket).Methods(http.MethodGet)
	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID       string          `json:"id"`
		Title    string          `json:"title"`
		Owner    engine.Identity `json:"owner"`
		Settings engine.Settings `json:"settings"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.ID) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id is required", nil)
		return
	}
	body.Owner.Role = engine.NormalizeRole(string(body.Owner.Role))
	if err := s.engine.CreateSession(body.ID, body.Title, body.Owner, body.Settings); err != nil {
		if errors.Is(err, engine.ErrSessionExists) {
			writeError(w, http.StatusConflict, "SESSION_EXISTS", "session id already in use", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "CREATE_FAILED", "could not create session", nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": body.ID})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.engine.SessionIDs()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	snap, err := s.engine.SessionSnapshot(sessionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSocket upgrades the connection, joins the participant and runs the
// read/write pumps until either side goes away.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	who, err := identityFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_IDENTITY", err.Error(), nil)
		return
	}

	snap, sub, err := s.engine.Join(sessionID, who)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error; undo the join.
		_ = s.engine.Disconnect(sessionID, who.ID, sub)
		return
	}

	client := newClient(s.engine, conn, sub, sessionID, who.ID)
	client.start(snap)
}

// identityFrom reads the externally resolved identity. Headers take
// precedence over query parameters; an upstream gateway is expected to have
// authenticated the participant already.
func identityFrom(r *http.Request) (engine.Identity, error) {
	pick := func(header, query string) string {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
		return strings.TrimSpace(r.URL.Query().Get(query))
	}
	who := engine.Identity{
		ID:          pick("X-Participant-Id", "participantId"),
		DisplayName: pick("X-Participant-Name", "name"),
		Role:        engine.NormalizeRole(pick("X-Participant-Role", "role")),
	}
	if who.ID == "" {
		return engine.Identity{}, fmt.Errorf("participant id is required")
	}
	if who.DisplayName == "" {
		who.DisplayName = who.ID
	}
	return who, nil
}

func writeEngineError(w http.ResponseWriter, err error) {
	var engineErr *engine.Error
	if !errors.As(err, &engineErr) {
		log.Printf("ws: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	writeError(w, httpStatusFor(engineErr.Code), string(engineErr.Code), engineErr.Message, engineErr.Details)
}

func httpStatusFor(code engine.Code) int {
	switch code {
	case engine.CodeSessionNotFound:
		return http.StatusNotFound
	case engine.CodeSessionFull, engine.CodeConflict, engine.CodeNotLockHolder:
		return http.StatusConflict
	case engine.CodeSessionClosed:
		return http.StatusGone
	case engine.CodePermissionDenied:
		return http.StatusForbidden
	case engine.CodeBusy:
		return http.StatusServiceUnavailable
	case engine.CodeValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
