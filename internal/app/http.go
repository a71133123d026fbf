package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"kanban/api/internal/realtime"
)

// connectionHeader carries the caller's websocket connection id so that its
// own mutations are not echoed back over that socket.
const connectionHeader = "X-Connection-ID"

type HTTPServer struct {
	service    *Service
	hub        *realtime.Hub
	corsOrigin string
	upgrader   websocket.Upgrader
	log        *slog.Logger
}

func NewHTTPServer(service *Service, hub *realtime.Hub, corsOrigin string, log *slog.Logger) *HTTPServer {
	if log == nil {
		log = slog.Default()
	}
	s := &HTTPServer{
		service:    service,
		hub:        hub,
		corsOrigin: corsOrigin,
		log:        log.With("component", "http"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.routes())
}

func (s *HTTPServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", s.authed(s.handleMe)).Methods(http.MethodGet)

	api.HandleFunc("/boards", s.authed(s.handleListBoards)).Methods(http.MethodGet)
	api.HandleFunc("/boards", s.authed(s.handleCreateBoard)).Methods(http.MethodPost)
	api.HandleFunc("/boards/{boardID:[0-9]+}", s.authed(s.handleGetBoard)).Methods(http.MethodGet)
	api.HandleFunc("/boards/{boardID:[0-9]+}", s.authed(s.handleUpdateBoard)).Methods(http.MethodPatch)
	api.HandleFunc("/boards/{boardID:[0-9]+}", s.authed(s.handleDeleteBoard)).Methods(http.MethodDelete)
	api.HandleFunc("/boards/{boardID:[0-9]+}/members", s.authed(s.handleListMembers)).Methods(http.MethodGet)
	api.HandleFunc("/boards/{boardID:[0-9]+}/members", s.authed(s.handleAddMember)).Methods(http.MethodPost)
	api.HandleFunc("/boards/{boardID:[0-9]+}/members/{userID:[0-9]+}", s.authed(s.handleRemoveMember)).Methods(http.MethodDelete)
	api.HandleFunc("/boards/{boardID:[0-9]+}/columns", s.authed(s.handleCreateColumn)).Methods(http.MethodPost)
	api.HandleFunc("/boards/{boardID:[0-9]+}/columns/order", s.authed(s.handleReorderColumns)).Methods(http.MethodPut)
	api.HandleFunc("/boards/{boardID:[0-9]+}/labels", s.authed(s.handleCreateLabel)).Methods(http.MethodPost)
	api.HandleFunc("/boards/{boardID:[0-9]+}/archived", s.authed(s.handleListArchived)).Methods(http.MethodGet)
	api.HandleFunc("/boards/{boardID:[0-9]+}/search", s.authed(s.handleSearch)).Methods(http.MethodGet)
	api.HandleFunc("/boards/{boardID:[0-9]+}/export", s.authed(s.handleExport)).Methods(http.MethodGet)
	api.HandleFunc("/boards/{boardID:[0-9]+}/exports", s.authed(s.handleArchiveExport)).Methods(http.MethodPost)

	api.HandleFunc("/columns/{columnID:[0-9]+}", s.authed(s.handleUpdateColumn)).Methods(http.MethodPatch)
	api.HandleFunc("/columns/{columnID:[0-9]+}", s.authed(s.handleDeleteColumn)).Methods(http.MethodDelete)
	api.HandleFunc("/columns/{columnID:[0-9]+}/cards", s.authed(s.handleCreateCard)).Methods(http.MethodPost)

	api.HandleFunc("/cards/{cardID:[0-9]+}", s.authed(s.handleGetCard)).Methods(http.MethodGet)
	api.HandleFunc("/cards/{cardID:[0-9]+}", s.authed(s.handleUpdateCard)).Methods(http.MethodPatch)
	api.HandleFunc("/cards/{cardID:[0-9]+}", s.authed(s.handleDeleteCard)).Methods(http.MethodDelete)
	api.HandleFunc("/cards/{cardID:[0-9]+}/move", s.authed(s.handleMoveCard)).Methods(http.MethodPost)
	api.HandleFunc("/cards/{cardID:[0-9]+}/archive", s.authed(s.handleArchiveCard)).Methods(http.MethodPost)
	api.HandleFunc("/cards/{cardID:[0-9]+}/unarchive", s.authed(s.handleUnarchiveCard)).Methods(http.MethodPost)
	api.HandleFunc("/cards/{cardID:[0-9]+}/subtasks", s.authed(s.handleAddSubtask)).Methods(http.MethodPost)
	api.HandleFunc("/cards/{cardID:[0-9]+}/subtasks/{subtaskID}", s.authed(s.handleUpdateSubtask)).Methods(http.MethodPatch)
	api.HandleFunc("/cards/{cardID:[0-9]+}/subtasks/{subtaskID}", s.authed(s.handleDeleteSubtask)).Methods(http.MethodDelete)
	api.HandleFunc("/cards/{cardID:[0-9]+}/comments", s.authed(s.handleAddComment)).Methods(http.MethodPost)
	api.HandleFunc("/cards/{cardID:[0-9]+}/comments/{commentID}", s.authed(s.handleDeleteComment)).Methods(http.MethodDelete)
	api.HandleFunc("/cards/{cardID:[0-9]+}/labels/{labelID:[0-9]+}", s.authed(s.handleAttachLabel)).Methods(http.MethodPut)
	api.HandleFunc("/cards/{cardID:[0-9]+}/labels/{labelID:[0-9]+}", s.authed(s.handleDetachLabel)).Methods(http.MethodDelete)

	api.HandleFunc("/labels/{labelID:[0-9]+}", s.authed(s.handleUpdateLabel)).Methods(http.MethodPatch)
	api.HandleFunc("/labels/{labelID:[0-9]+}", s.authed(s.handleDeleteLabel)).Methods(http.MethodDelete)
	return r
}

type authedHandler func(w http.ResponseWriter, r *http.Request, p Principal)

func (s *HTTPServer) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.requirePrincipal(w, r, bearerToken(r))
		if !ok {
			return
		}
		p.ConnID = strings.TrimSpace(r.Header.Get(connectionHeader))
		next(w, r, p)
	}
}

func (s *HTTPServer) requirePrincipal(w http.ResponseWriter, r *http.Request, token string) (Principal, bool) {
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Principal{}, false
	}
	p, err := s.service.PrincipalFromToken(token)
	if err != nil {
		s.log.Debug("rejected token", "request_id", requestID(r.Context()), "error", err)
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Principal{}, false
	}
	return p, true
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	if s.hub != nil {
		checks["realtime"] = map[string]any{
			"status":      "ok",
			"connections": s.hub.ConnCount(),
			"boards":      s.hub.BoardCount(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleWebSocket upgrades an authenticated request. Browsers cannot set
// headers on the upgrade, so the token may also come from ?token=.
func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "REALTIME_UNAVAILABLE", "Realtime is not configured", nil)
		return
	}
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	p, ok := s.requirePrincipal(w, r, token)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", "request_id", requestID(r.Context()), "error", err)
		return
	}
	client := realtime.NewClient(conn)
	session := realtime.NewSession(s.hub, client, p.UserID, s.service)
	session.Greet()
	client.Serve(r.Context(), session)
}

func (s *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.corsOrigin == "" || s.corsOrigin == "*" {
		return true
	}
	return origin == s.corsOrigin
}

// Accounts

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if !s.decode(w, r, &in) {
		return
	}
	result, err := s.service.Register(r.Context(), in)
	s.respond(w, r, http.StatusCreated, result, err)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if !s.decode(w, r, &in) {
		return
	}
	result, err := s.service.Login(r.Context(), in)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request, p Principal) {
	account, err := s.service.Me(r.Context(), p)
	s.respond(w, r, http.StatusOK, account, err)
}

// Boards

func (s *HTTPServer) handleListBoards(w http.ResponseWriter, r *http.Request, p Principal) {
	boards, err := s.service.ListBoards(r.Context(), p)
	s.respond(w, r, http.StatusOK, map[string]any{"boards": boards}, err)
}

func (s *HTTPServer) handleCreateBoard(w http.ResponseWriter, r *http.Request, p Principal) {
	var in CreateBoardInput
	if !s.decode(w, r, &in) {
		return
	}
	board, err := s.service.CreateBoard(r.Context(), p, in)
	s.respond(w, r, http.StatusCreated, board, err)
}

func (s *HTTPServer) handleGetBoard(w http.ResponseWriter, r *http.Request, p Principal) {
	board, err := s.service.GetBoard(r.Context(), p, pathID(r, "boardID"))
	s.respond(w, r, http.StatusOK, board, err)
}

func (s *HTTPServer) handleUpdateBoard(w http.ResponseWriter, r *http.Request, p Principal) {
	var in UpdateBoardInput
	if !s.decode(w, r, &in) {
		return
	}
	board, err := s.service.UpdateBoard(r.Context(), p, pathID(r, "boardID"), in)
	s.respond(w, r, http.StatusOK, board, err)
}

func (s *HTTPServer) handleDeleteBoard(w http.ResponseWriter, r *http.Request, p Principal) {
	err := s.service.DeleteBoard(r.Context(), p, pathID(r, "boardID"))
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request, p Principal) {
	members, err := s.service.ListMembers(r.Context(), p, pathID(r, "boardID"))
	s.respond(w, r, http.StatusOK, map[string]any{"members": members}, err)
}

func (s *HTTPServer) handleAddMember(w http.ResponseWriter, r *http.Request, p Principal) {
	var in AddMemberInput
	if !s.decode(w, r, &in) {
		return
	}
	member, err := s.service.AddMember(r.Context(), p, pathID(r, "boardID"), in)
	s.respond(w, r, http.StatusCreated, member, err)
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request, p Principal) {
	err := s.service.RemoveMember(r.Context(), p, pathID(r, "boardID"), pathID(r, "userID"))
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *HTTPServer) handleListArchived(w http.ResponseWriter, r *http.Request, p Principal) {
	cards, err := s.service.ListArchivedCards(r.Context(), p, pathID(r, "boardID"))
	s.respond(w, r, http.StatusOK, map[string]any{"cards": cards}, err)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, p Principal) {
	query := r.URL.Query()
	in := SearchInput{
		Query:           query.Get("q"),
		IncludeArchived: query.Get("archived") == "true",
	}
	var err error
	if in.Limit, err = queryInt(query.Get("limit")); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", map[string]string{"limit": "must be an integer"})
		return
	}
	if in.Offset, err = queryInt(query.Get("offset")); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", map[string]string{"offset": "must be an integer"})
		return
	}
	resp, err := s.service.SearchCards(r.Context(), p, pathID(r, "boardID"), in)
	s.respond(w, r, http.StatusOK, resp, err)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, p Principal) {
	result, err := s.service.ExportBoard(r.Context(), p, pathID(r, "boardID"), r.URL.Query().Get("format"))
	if err != nil {
		s.respond(w, r, 0, nil, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleArchiveExport(w http.ResponseWriter, r *http.Request, p Principal) {
	var body struct {
		Format string `json:"format"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	archived, err := s.service.ArchiveExport(r.Context(), p, pathID(r, "boardID"), body.Format)
	s.respond(w, r, http.StatusCreated, archived, err)
}

// Columns

func (s *HTTPServer) handleCreateColumn(w http.ResponseWriter, r *http.Request, p Principal) {
	var in CreateColumnInput
	if !s.decode(w, r, &in) {
		return
	}
	col, err := s.service.CreateColumn(r.Context(), p, pathID(r, "boardID"), in)
	s.respond(w, r, http.StatusCreated, col, err)
}

func (s *HTTPServer) handleReorderColumns(w http.ResponseWriter, r *http.Request, p Principal) {
	var in ReorderColumnsInput
	if !s.decode(w, r, &in) {
		return
	}
	cols, err := s.service.ReorderColumns(r.Context(), p, pathID(r, "boardID"), in)
	s.respond(w, r, http.StatusOK, map[string]any{"columns": cols}, err)
}

func (s *HTTPServer) handleUpdateColumn(w http.ResponseWriter, r *http.Request, p Principal) {
	var in UpdateColumnInput
	if !s.decode(w, r, &in) {
		return
	}
	col, err := s.service.UpdateColumn(r.Context(), p, pathID(r, "columnID"), in)
	s.respond(w, r, http.StatusOK, col, err)
}

func (s *HTTPServer) handleDeleteColumn(w http.ResponseWriter, r *http.Request, p Principal) {
	err := s.service.DeleteColumn(r.Context(), p, pathID(r, "columnID"))
	s.respond(w, r, http.StatusNoContent, nil, err)
}

// Cards

func (s *HTTPServer) handleCreateCard(w http.ResponseWriter, r *http.Request, p Principal) {
	var in CreateCardInput
	if !s.decode(w, r, &in) {
		return
	}
	card, err := s.service.CreateCard(r.Context(), p, pathID(r, "columnID"), in)
	s.respond(w, r, http.StatusCreated, card, err)
}

func (s *HTTPServer) handleGetCard(w http.ResponseWriter, r *http.Request, p Principal) {
	card, err := s.service.GetCard(r.Context(), p, pathID(r, "cardID"))
	s.respond(w, r, http.StatusOK, card, err)
}

func (s *HTTPServer) handleUpdateCard(w http.ResponseWriter, r *http.Request, p Principal) {
	var in UpdateCardInput
	if !s.decode(w, r, &in) {
		return
	}
	card, err := s.service.UpdateCard(r.Context(), p, pathID(r, "cardID"), in)
	s.respond(w, r, http.StatusOK, card, err)
}

func (s *HTTPServer) handleDeleteCard(w http.ResponseWriter, r *http.Request, p Principal) {
	err := s.service.DeleteCard(r.Context(), p, pathID(r, "cardID"))
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *HTTPServer) handleMoveCard(w http.ResponseWriter, r *http.Request, p Principal) {
	var in MoveCardInput
	if !s.decode(w, r, &in) {
		return
	}
	result, err := s.service.MoveCard(r.Context(), p, pathID(r, "cardID"), in)
	s.respond(w, r, http.StatusOK, result, err)
}

func (s *HTTPServer) handleArchiveCard(w http.ResponseWriter, r *http.Request, p Principal) {
	card, err := s.service.ArchiveCard(r.Context(), p, pathID(r, "cardID"))
	s.respond(w, r, http.StatusOK, card, err)
}

func (s *HTTPServer) handleUnarchiveCard(w http.ResponseWriter, r *http.Request, p Principal) {
	var in UnarchiveCardInput
	if !s.decode(w, r, &in) {
		return
	}
	card, err := s.service.UnarchiveCard(r.Context(), p, pathID(r, "cardID"), in)
	s.respond(w, r, http.StatusOK, card, err)
}

func (s *HTTPServer) handleAddSubtask(w http.ResponseWriter, r *http.Request, p Principal) {
	var in CreateSubtaskInput
	if !s.decode(w, r, &in) {
		return
	}
	card, err := s.service.AddSubtask(r.Context(), p, pathID(r, "cardID"), in)
	s.respond(w, r, http.StatusCreated, card, err)
}

func (s *HTTPServer) handleUpdateSubtask(w http.ResponseWriter, r *http.Request, p Principal) {
	var in UpdateSubtaskInput
	if !s.decode(w, r, &in) {
		return
	}
	card, err := s.service.UpdateSubtask(r.Context(), p, pathID(r, "cardID"), mux.Vars(r)["subtaskID"], in)
	s.respond(w, r, http.StatusOK, card, err)
}

func (s *HTTPServer) handleDeleteSubtask(w http.ResponseWriter, r *http.Request, p Principal) {
	card, err := s.service.DeleteSubtask(r.Context(), p, pathID(r, "cardID"), mux.Vars(r)["subtaskID"])
	s.respond(w, r, http.StatusOK, card, err)
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request, p Principal) {
	var in CreateCommentInput
	if !s.decode(w, r, &in) {
		return
	}
	card, err := s.service.AddComment(r.Context(), p, pathID(r, "cardID"), in)
	s.respond(w, r, http.StatusCreated, card, err)
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request, p Principal) {
	card, err := s.service.DeleteComment(r.Context(), p, pathID(r, "cardID"), mux.Vars(r)["commentID"])
	s.respond(w, r, http.StatusOK, card, err)
}

func (s *HTTPServer) handleAttachLabel(w http.ResponseWriter, r *http.Request, p Principal) {
	card, err := s.service.AttachLabel(r.Context(), p, pathID(r, "cardID"), pathID(r, "labelID"))
	s.respond(w, r, http.StatusOK, card, err)
}

func (s *HTTPServer) handleDetachLabel(w http.ResponseWriter, r *http.Request, p Principal) {
	card, err := s.service.DetachLabel(r.Context(), p, pathID(r, "cardID"), pathID(r, "labelID"))
	s.respond(w, r, http.StatusOK, card, err)
}

// Labels

func (s *HTTPServer) handleCreateLabel(w http.ResponseWriter, r *http.Request, p Principal) {
	var in CreateLabelInput
	if !s.decode(w, r, &in) {
		return
	}
	label, err := s.service.CreateLabel(r.Context(), p, pathID(r, "boardID"), in)
	s.respond(w, r, http.StatusCreated, label, err)
}

func (s *HTTPServer) handleUpdateLabel(w http.ResponseWriter, r *http.Request, p Principal) {
	var in UpdateLabelInput
	if !s.decode(w, r, &in) {
		return
	}
	label, err := s.service.UpdateLabel(r.Context(), p, pathID(r, "labelID"), in)
	s.respond(w, r, http.StatusOK, label, err)
}

func (s *HTTPServer) handleDeleteLabel(w http.ResponseWriter, r *http.Request, p Principal) {
	err := s.service.DeleteLabel(r.Context(), p, pathID(r, "labelID"))
	s.respond(w, r, http.StatusNoContent, nil, err)
}

// Plumbing

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

// respond writes payload with status, or the mapped error. Unexpected
// errors are logged and hidden from the caller.
func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		code, errCode, message, details := mapError(err)
		if code >= http.StatusInternalServerError {
			s.log.Error("request failed", "request_id", requestID(r.Context()), "method", r.Method, "path", r.URL.Path, "error", err)
		}
		writeError(w, code, errCode, message, details)
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	allowed := []string{s.corsOrigin}
	if s.corsOrigin == "" {
		allowed = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID", connectionHeader},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: s.corsOrigin != "" && s.corsOrigin != "*",
	}).Handler(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", id)
		writer.Header().Set("Cache-Control", "no-store")

		corsHandler.ServeHTTP(writer, r)

		s.log.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the hijacker for websockets.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
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
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// pathID reads a numeric route variable. Routes constrain these to digits.
func pathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.As(translate(err, "Resource"), &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
