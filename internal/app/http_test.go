package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"kanban/api/internal/config"
	"kanban/api/internal/events"
	"kanban/api/internal/export"
	"kanban/api/internal/realtime"
)

type httpEnv struct {
	server  *HTTPServer
	svc     *Service
	hub     *realtime.Hub
	emitter *events.Emitter
}

func newHTTPEnv(t *testing.T) *httpEnv {
	t.Helper()
	hub := realtime.NewHub(nil)
	emitter := events.NewEmitter(hub, nil, time.Second, nil)
	svc := New(config.Config{JWTSecret: "test-secret", AccessTTL: time.Hour}, newMemStore(), Deps{
		Events: emitter,
		Export: export.NewService(nil, nil),
	})
	svc.passwords = svc.passwords.WithCost(bcrypt.MinCost)
	svc.async = func(fn func()) { fn() }
	return &httpEnv{server: NewHTTPServer(svc, hub, "*", nil), svc: svc, hub: hub, emitter: emitter}
}

func (e *httpEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func (e *httpEnv) register(t *testing.T, username string) (string, int64) {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"email":"%s@example.com","password":"long enough pw"}`, username, username)
	rr := e.do(t, http.MethodPost, "/api/auth/register", "", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body=%s", username, rr.Code, rr.Body.String())
	}
	var result AuthResult
	decodeJSON(t, rr, &result)
	return result.Token, result.User.ID
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
}

func TestRoutesRequireBearerToken(t *testing.T) {
	env := newHTTPEnv(t)
	for _, path := range []string{"/api/boards", "/api/auth/me", "/api/boards/1", "/api/cards/1"} {
		rr := env.do(t, http.MethodGet, path, "", "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rr.Code)
		}
	}
	rr := env.do(t, http.MethodGet, "/api/boards", "not-a-jwt", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rr.Code)
	}
}

func TestUnknownRouteReturnsNotFoundEnvelope(t *testing.T) {
	env := newHTTPEnv(t)
	rr := env.do(t, http.MethodGet, "/api/nope", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var payload map[string]any
	decodeJSON(t, rr, &payload)
	if payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND code, got %v", payload["code"])
	}
}

func TestBoardLifecycleOverHTTP(t *testing.T) {
	env := newHTTPEnv(t)
	ownerToken, _ := env.register(t, "olive")
	memberToken, memberID := env.register(t, "mason")
	strangerToken, _ := env.register(t, "oscar")

	rr := env.do(t, http.MethodPost, "/api/boards", ownerToken, `{"name":"Launch"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create board: %d %s", rr.Code, rr.Body.String())
	}
	var board BoardView
	decodeJSON(t, rr, &board)

	rr = env.do(t, http.MethodPost, fmt.Sprintf("/api/boards/%d/members", board.ID), ownerToken, `{"username":"mason"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add member: %d %s", rr.Code, rr.Body.String())
	}
	var member MemberView
	decodeJSON(t, rr, &member)
	if member.User.ID != memberID || member.Role != "member" {
		t.Fatalf("unexpected member %+v", member)
	}

	rr = env.do(t, http.MethodPost, fmt.Sprintf("/api/boards/%d/columns", board.ID), memberToken, `{"name":"Todo"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create column: %d %s", rr.Code, rr.Body.String())
	}
	var col ColumnView
	decodeJSON(t, rr, &col)

	rr = env.do(t, http.MethodPost, fmt.Sprintf("/api/columns/%d/cards", col.ID), memberToken, `{"title":"Write docs","priority":"high"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create card: %d %s", rr.Code, rr.Body.String())
	}
	var card CardDetail
	decodeJSON(t, rr, &card)

	rr = env.do(t, http.MethodGet, fmt.Sprintf("/api/boards/%d", board.ID), memberToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get board: %d %s", rr.Code, rr.Body.String())
	}
	var detail BoardDetail
	decodeJSON(t, rr, &detail)
	if len(detail.Columns) != 1 || len(detail.Columns[0].Cards) != 1 || detail.Columns[0].Cards[0].ID != card.ID {
		t.Fatalf("unexpected board detail %+v", detail)
	}

	rr = env.do(t, http.MethodGet, fmt.Sprintf("/api/boards/%d", board.ID), strangerToken, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("stranger get board: expected 404, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodDelete, fmt.Sprintf("/api/boards/%d", board.ID), memberToken, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("member delete board: expected 403, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodDelete, fmt.Sprintf("/api/cards/%d", card.ID), memberToken, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete card: expected 204, got %d", rr.Code)
	}
}

func TestValidationErrorsCarryFieldDetails(t *testing.T) {
	env := newHTTPEnv(t)
	token, _ := env.register(t, "olive")

	rr := env.do(t, http.MethodPost, "/api/boards", token, `{"name":"   "}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	var payload struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	decodeJSON(t, rr, &payload)
	if payload.Code != "VALIDATION_ERROR" || payload.Details["name"] == "" {
		t.Fatalf("unexpected validation payload %+v", payload)
	}

	rr = env.do(t, http.MethodPost, "/api/boards", token, `{"name":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rr.Code)
	}
}

func TestExportJSONDownload(t *testing.T) {
	env := newHTTPEnv(t)
	token, _ := env.register(t, "olive")
	rr := env.do(t, http.MethodPost, "/api/boards", token, `{"name":"Quarterly Plan"}`)
	var board BoardView
	decodeJSON(t, rr, &board)

	rr = env.do(t, http.MethodGet, fmt.Sprintf("/api/boards/%d/export?format=json", board.ID), token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("export: %d %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Fatalf("expected attachment disposition, got %q", cd)
	}
	var exported export.Board
	decodeJSON(t, rr, &exported)
	if exported.Name != "Quarterly Plan" || exported.Owner != "olive" {
		t.Fatalf("unexpected export %+v", exported)
	}

	rr = env.do(t, http.MethodPost, fmt.Sprintf("/api/boards/%d/exports", board.ID), token, `{"format":"json"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("archive without storage: expected 503, got %d", rr.Code)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) realtime.Message {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var msg realtime.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return msg
}

func TestWebSocketReceivesBoardEvents(t *testing.T) {
	env := newHTTPEnv(t)
	ownerToken, _ := env.register(t, "olive")
	rr := env.do(t, http.MethodPost, "/api/boards", ownerToken, `{"name":"Live"}`)
	var board BoardView
	decodeJSON(t, rr, &board)

	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=" + ownerToken
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })

	hello := readFrame(t, ws)
	if hello.Type != realtime.FrameConnected {
		t.Fatalf("expected connected frame, got %+v", hello)
	}

	if err := ws.WriteJSON(map[string]any{"type": "subscribe", "boardId": board.ID}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if ack := readFrame(t, ws); ack.Type != realtime.FrameSubscribed || ack.BoardID != board.ID {
		t.Fatalf("unexpected ack %+v", ack)
	}

	rr = env.do(t, http.MethodPost, fmt.Sprintf("/api/boards/%d/columns", board.ID), ownerToken, `{"name":"Todo"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create column: %d %s", rr.Code, rr.Body.String())
	}
	event := readFrame(t, ws)
	if event.Type != string(events.ColumnCreated) || event.BoardID != board.ID {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	env := newHTTPEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}
}

func TestConnectionHeaderExcludesActorSocket(t *testing.T) {
	env := newHTTPEnv(t)
	token, _ := env.register(t, "olive")
	rr := env.do(t, http.MethodPost, "/api/boards", token, `{"name":"Echo"}`)
	var board BoardView
	decodeJSON(t, rr, &board)

	conn := &captureConn{id: "conn_actor"}
	env.hub.Register(conn)
	env.hub.Subscribe(conn, board.ID)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/boards/%d/labels", board.ID), bytes.NewBufferString(`{"name":"bug","color":"#ff0000"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(connectionHeader, "conn_actor")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create label: %d %s", rec.Code, rec.Body.String())
	}
	env.emitter.Wait()

	if conn.count() != 0 {
		t.Fatalf("actor socket received its own event")
	}
}

func TestRemovedMemberStopsReceivingBoardEvents(t *testing.T) {
	env := newHTTPEnv(t)
	ownerToken, _ := env.register(t, "olive")
	_, memberID := env.register(t, "mason")

	rr := env.do(t, http.MethodPost, "/api/boards", ownerToken, `{"name":"Secret"}`)
	var board BoardView
	decodeJSON(t, rr, &board)
	if rr = env.do(t, http.MethodPost, fmt.Sprintf("/api/boards/%d/members", board.ID), ownerToken, fmt.Sprintf(`{"userId":%d}`, memberID)); rr.Code != http.StatusCreated {
		t.Fatalf("add member: %d %s", rr.Code, rr.Body.String())
	}

	conn := &captureConn{id: "conn_member"}
	session := realtime.NewSession(env.hub, conn, memberID, env.svc)
	session.Handle(context.Background(), []byte(fmt.Sprintf(`{"type":"subscribe","boardId":%d}`, board.ID)))
	if got := conn.types(t); len(got) != 1 || got[0] != realtime.FrameSubscribed {
		t.Fatalf("expected subscribed ack, got %v", got)
	}

	rr = env.do(t, http.MethodDelete, fmt.Sprintf("/api/boards/%d/members/%d", board.ID, memberID), ownerToken, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("remove member: %d %s", rr.Code, rr.Body.String())
	}
	if got := env.hub.SubscriberCount(board.ID); got != 0 {
		t.Fatalf("removed member still subscribed: %d subscribers", got)
	}

	env.do(t, http.MethodPost, fmt.Sprintf("/api/boards/%d/columns", board.ID), ownerToken, `{"name":"Private plans"}`)
	env.emitter.Wait()

	want := []string{realtime.FrameSubscribed, string(events.MemberRemoved), realtime.FrameRevoked}
	got := conn.types(t)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("frames = %v, want %v", got, want)
	}
}

func TestDeletedBoardDropsSubscribers(t *testing.T) {
	env := newHTTPEnv(t)
	token, userID := env.register(t, "olive")
	rr := env.do(t, http.MethodPost, "/api/boards", token, `{"name":"Gone"}`)
	var board BoardView
	decodeJSON(t, rr, &board)

	conn := &captureConn{id: "conn_owner"}
	session := realtime.NewSession(env.hub, conn, userID, env.svc)
	session.Handle(context.Background(), []byte(fmt.Sprintf(`{"type":"subscribe","boardId":%d}`, board.ID)))

	if rr = env.do(t, http.MethodDelete, fmt.Sprintf("/api/boards/%d", board.ID), token, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete board: %d %s", rr.Code, rr.Body.String())
	}
	if got := env.hub.BoardCount(); got != 0 {
		t.Fatalf("BoardCount() = %d after delete, want 0", got)
	}
	if got := conn.types(t); got[len(got)-1] != realtime.FrameRevoked {
		t.Fatalf("expected revoked notice last, got %v", got)
	}
}

type captureConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
}

func (c *captureConn) ID() string { return c.id }

func (c *captureConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *captureConn) types(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, frame := range c.frames {
		var msg realtime.Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			t.Fatalf("decode frame %s: %v", frame, err)
		}
		out = append(out, msg.Type)
	}
	return out
}

func (c *captureConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}
