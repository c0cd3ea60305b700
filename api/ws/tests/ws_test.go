package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/pixelwars/api/ws"
	cachemocks "github.com/zlnvch/pixelwars/cache/mocks"
	"github.com/zlnvch/pixelwars/service"
)

// subscriptions records the handlers the hub registers per channel
type subscriptions struct {
	mu       sync.Mutex
	handlers map[string]func([]byte)
}

func (s *subscriptions) get(channel string) func([]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[channel]
}

type wsEnv struct {
	server *httptest.Server
	svc    *service.Service
	subs   *subscriptions
}

func setupWS(t *testing.T) *wsEnv {
	mockCache := new(cachemocks.MockCache)
	subs := &subscriptions{handlers: make(map[string]func([]byte))}

	mockCache.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		subs.mu.Lock()
		defer subs.mu.Unlock()
		subs.handlers[args.String(1)] = args.Get(2).(func([]byte))
	}).Return(nil)
	mockCache.On("AddPixelEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	mockCache.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	svc := service.NewService(nil, mockCache, nil, nil, nil)
	_, err := svc.CreateCanvas("000", 2, 2, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := ws.NewHub(mockCache)
	require.NoError(t, hub.InitSubscriptions(ctx))
	go hub.Run(ctx)

	handler := ws.NewHandler(svc, hub)
	upgrader := handler.NewWsUpgrader([]string{"*"})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeWS(upgrader, w, r, ctx)
	}))
	t.Cleanup(server.Close)

	return &wsEnv{server: server, svc: svc, subs: subs}
}

func (e *wsEnv) newUser(t *testing.T) string {
	t.Helper()
	key, err := e.svc.IssueSessionKey("000")
	require.NoError(t, err)
	session, err := e.svc.IssueUser("000", key)
	require.NoError(t, err)
	return session.Id
}

func (e *wsEnv) dial(t *testing.T, userId string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?canvas=000"
	dialer := websocket.Dialer{Subprotocols: []string{"pixelwars-v1", userId}}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type response struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func readResponse(t *testing.T, conn *websocket.Conn) response {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var resp response
	require.NoError(t, json.Unmarshal(b, &resp))
	return resp
}

func waitForCanvasSubscription(t *testing.T, env *wsEnv) func([]byte) {
	t.Helper()
	var handler func([]byte)
	require.Eventually(t, func() bool {
		handler = env.subs.get(service.CanvasChannel("000"))
		return handler != nil
	}, 2*time.Second, 10*time.Millisecond)
	return handler
}

func TestWS_SetPixelAndDeltas(t *testing.T) {
	env := setupWS(t)
	writer := env.newUser(t)
	reader := env.newUser(t)

	writerConn := env.dial(t, writer)
	readerConn := env.dial(t, reader)

	require.NoError(t, writerConn.WriteJSON(map[string]any{
		"type": "set_pixel",
		"data": map[string]int{"x": 1, "y": 1, "r": 5, "g": 6, "b": 7},
	}))
	resp := readResponse(t, writerConn)
	assert.Equal(t, "set_pixel_response", resp.Type)
	assert.Equal(t, true, resp.Data["success"])

	require.NoError(t, readerConn.WriteJSON(map[string]string{"type": "deltas"}))
	resp = readResponse(t, readerConn)
	assert.Equal(t, "deltas_response", resp.Type)
	assert.Equal(t, true, resp.Data["success"])
	assert.Equal(t, []any{[]any{1.0, 1.0, 5.0, 6.0, 7.0}}, resp.Data["deltas"])
}

func TestWS_SetPixelRejected(t *testing.T) {
	env := setupWS(t)
	conn := env.dial(t, env.newUser(t))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "set_pixel",
		"data": map[string]int{"x": 9, "y": 0, "r": 5, "g": 6, "b": 7},
	}))
	resp := readResponse(t, conn)
	assert.Equal(t, "set_pixel_response", resp.Type)
	assert.Equal(t, false, resp.Data["success"])
	assert.NotEmpty(t, resp.Data["error"])
}

func TestWS_BroadcastsCanvasEvents(t *testing.T) {
	env := setupWS(t)
	conn := env.dial(t, env.newUser(t))

	publish := waitForCanvasSubscription(t, env)
	publish([]byte(`{"type":"pixel_set","data":{"x":1}}`))

	resp := readResponse(t, conn)
	assert.Equal(t, "pixel_set", resp.Type)
	assert.Equal(t, 1.0, resp.Data["x"])
}

func TestWS_UnknownUserIsRejected(t *testing.T) {
	env := setupWS(t)
	conn := env.dial(t, "nobody")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}

func TestWS_EvictedUserIsDisconnected(t *testing.T) {
	env := setupWS(t)
	userId := env.newUser(t)
	conn := env.dial(t, userId)
	waitForCanvasSubscription(t, env)

	evicted := env.subs.get(service.UsersEvictedChannel)
	require.NotNil(t, evicted)
	msg, err := json.Marshal(service.UsersEvictedMessage{Canvas: "000", UserIds: []string{userId}})
	require.NoError(t, err)
	evicted(msg)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}

func TestWS_RequiresSubprotocol(t *testing.T) {
	env := setupWS(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?canvas=000"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
