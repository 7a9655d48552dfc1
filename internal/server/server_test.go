package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-board/internal/board"
	"realtime-board/internal/broadcast"
	"realtime-board/internal/cache"
	"realtime-board/internal/config"
	"realtime-board/internal/coordinator"
	"realtime-board/internal/logging"
	"realtime-board/internal/model"
	"realtime-board/internal/registry"
	"realtime-board/internal/storage"
)

type testServer struct {
	srv *Server
	mr  *miniredis.Miniredis
	reg *registry.Registry
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  5 * time.Second,
			BodyLimit:    12 * 1024 * 1024,
		},
		WebSocket: config.WebSocketConfig{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			WriteTimeout:    2 * time.Second,
			PongWait:        10 * time.Second,
			MaxMessageSize:  64 * 1024,
			SendQueueSize:   64,
		},
		CORS:      config.CORSConfig{AllowOrigins: "*", AllowHeaders: "Origin, Content-Type, Accept"},
		RateLimit: config.RateLimitConfig{Max: 1000, Window: time.Minute},
		Board: config.BoardConfig{
			SessionTTL:  7 * 24 * time.Hour,
			BoardTTL:    24 * time.Hour,
			StrokeLimit: 1000,
			MarkerLimit: 500,
			CASRetries:  8,
		},
		Storage: config.StorageConfig{
			Driver:        "disk",
			UploadDir:     filepath.Join(t.TempDir(), "maps"),
			PublicPath:    "/uploads/maps",
			MaxUploadSize: 1024,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logging.Discard()
	client := cache.NewFromClient(rdb, "tb:", log)
	store := board.NewStore(client, cfg.Board, log)
	reg := registry.New(client, store, cfg.Board.SessionTTL, log)
	hub := broadcast.NewHub(log)

	disk, err := storage.NewDiskStore(cfg.Storage.UploadDir, cfg.Storage.PublicPath)
	require.NoError(t, err)

	srv := New(cfg, Deps{
		Redis:       client,
		Rooms:       reg,
		Coordinator: coordinator.New(reg, store, hub, log),
		Publisher:   hub,
		Maps:        storage.NewService(disk, nil, cfg.Storage.MaxUploadSize, log),
	}, log)
	srv.SetupMiddleware()
	srv.SetupRoutes()
	return &testServer{srv: srv, mr: mr, reg: reg}
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, testConfig(t))
	app := ts.srv.App()

	resp, err := app.Test(httptest.NewRequest("GET", "/health/live", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/health/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "healthy", body.Checks["redis"]["status"])
	assert.Equal(t, "not_configured", body.Checks["database"]["status"])

	ts.mr.SetError("ERR store down")
	resp, err = app.Test(httptest.NewRequest("GET", "/health/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRoomEndpoints(t *testing.T) {
	ts := newTestServer(t, testConfig(t))
	app := ts.srv.App()

	resp, err := app.Test(httptest.NewRequest("POST", "/api/rooms/create", nil))
	require.NoError(t, err)
	var created struct {
		RoomID string `json:"roomId"`
	}
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.RoomID)

	// 아직 아무도 참가하지 않은 세션
	resp, err = app.Test(httptest.NewRequest("GET", "/api/rooms/"+created.RoomID, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/rooms/"+created.RoomID+"/users", nil))
	require.NoError(t, err)
	var empty struct {
		Users []map[string]any `json:"users"`
	}
	decodeBody(t, resp, &empty)
	assert.NotNil(t, empty.Users)
	assert.Empty(t, empty.Users)

	_, err = ts.reg.Join(context.Background(), created.RoomID, participant("c1", "Alice"))
	require.NoError(t, err)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/rooms/"+created.RoomID, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var info struct {
		ID        string           `json:"id"`
		CreatedBy string           `json:"createdBy"`
		Users     []map[string]any `json:"users"`
		UserCount int              `json:"userCount"`
	}
	decodeBody(t, resp, &info)
	assert.Equal(t, created.RoomID, info.ID)
	assert.Equal(t, "c1", info.CreatedBy)
	assert.Equal(t, 1, info.UserCount)
	require.Len(t, info.Users, 1)
	assert.Equal(t, "Alice", info.Users[0]["name"])
}

func multipartImage(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestMapUploadAndList(t *testing.T) {
	ts := newTestServer(t, testConfig(t))
	app := ts.srv.App()

	body, ct := multipartImage(t, "map", "dust2.png", "image/png", []byte("fake-png"))
	req := httptest.NewRequest("POST", "/api/maps/upload", body)
	req.Header.Set("Content-Type", ct)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var up struct {
		URL          string `json:"url"`
		Filename     string `json:"filename"`
		OriginalName string `json:"originalName"`
	}
	decodeBody(t, resp, &up)
	assert.Equal(t, "dust2.png", up.OriginalName)
	assert.Equal(t, "/uploads/maps/"+up.Filename, up.URL)

	// 정적 경로로 바로 제공
	resp, err = app.Test(httptest.NewRequest("GET", up.URL, nil))
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "fake-png", string(data))

	resp, err = app.Test(httptest.NewRequest("GET", "/api/maps/list", nil))
	require.NoError(t, err)
	var listed struct {
		Maps []storage.Object `json:"maps"`
	}
	decodeBody(t, resp, &listed)
	assert.Equal(t, []storage.Object{{Filename: up.Filename, URL: up.URL}}, listed.Maps)
}

func TestMapUploadRejects(t *testing.T) {
	ts := newTestServer(t, testConfig(t))
	app := ts.srv.App()

	// 파일 없음
	req := httptest.NewRequest("POST", "/api/maps/upload", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, ct := multipartImage(t, "map", "notes.txt", "text/plain", []byte("hello"))
	req = httptest.NewRequest("POST", "/api/maps/upload", body)
	req.Header.Set("Content-Type", ct)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, ct = multipartImage(t, "map", "big.png", "image/png", bytes.Repeat([]byte("x"), 2048))
	req = httptest.NewRequest("POST", "/api/maps/upload", body)
	req.Header.Set("Content-Type", ct)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.Max = 2
	ts := newTestServer(t, cfg)
	app := ts.srv.App()

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("POST", "/api/rooms/create", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, err := app.Test(httptest.NewRequest("POST", "/api/rooms/create", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	ts := newTestServer(t, testConfig(t))
	resp, err := ts.srv.App().Test(httptest.NewRequest("GET", "/ws/board", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

// --- end-to-end websocket ---

type wsEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func serve(t *testing.T, ts *testServer) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = ts.srv.Listener(ln) }()
	t.Cleanup(func() { _ = ts.srv.Shutdown() })
	return "ws://" + ln.Addr().String() + "/ws/board"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 20*time.Millisecond)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": typ, "payload": payload}))
}

// waitFor 지정한 타입의 이벤트가 올 때까지 읽음
func waitFor(t *testing.T, conn *websocket.Conn, typ string) wsEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var ev wsEvent
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %s", typ)
		if ev.Type == typ {
			return ev
		}
	}
}

func TestBoardWebSocketFlow(t *testing.T) {
	ts := newTestServer(t, testConfig(t))
	url := serve(t, ts)

	alice := dial(t, url)
	sendEvent(t, alice, "join", map[string]any{"sessionId": "s1", "displayName": "Alice"})
	snap := waitFor(t, alice, "boardSnapshot")
	assert.Contains(t, string(snap.Payload), `"tokens"`)
	waitFor(t, alice, "rosterUpdate")

	bob := dial(t, url)
	sendEvent(t, bob, "join", map[string]any{"sessionId": "s1", "displayName": "Bob"})
	waitFor(t, bob, "boardSnapshot")

	joined := waitFor(t, alice, "participantJoined")
	assert.Contains(t, string(joined.Payload), `"Bob"`)

	sendEvent(t, bob, "addStroke", map[string]any{
		"sessionId": "s1",
		"stroke": map[string]any{
			"type": "pen", "points": []float64{0, 0, 10, 10}, "color": "#000", "strokeWidth": 2, "layer": 1,
		},
	})
	added := waitFor(t, alice, "strokeAdded")
	var sa struct {
		Stroke struct {
			ID string `json:"id"`
		} `json:"stroke"`
	}
	require.NoError(t, json.Unmarshal(added.Payload, &sa))
	assert.NotEmpty(t, sa.Stroke.ID)

	sendEvent(t, alice, "ping", nil)
	waitFor(t, alice, "pong")

	sendEvent(t, alice, "bogus", nil)
	errEv := waitFor(t, alice, "error")
	assert.Contains(t, string(errEv.Payload), "unknown event type: bogus")

	// Bob 연결 종료 -> Alice에게 퇴장 알림
	require.NoError(t, bob.Close())
	left := waitFor(t, alice, "participantLeft")
	assert.Contains(t, string(left.Payload), "connectionId")

	require.Eventually(t, func() bool {
		n, err := ts.reg.MemberCount(context.Background(), "s1")
		return err == nil && n == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func participant(id, name string) model.Participant {
	return model.Participant{ID: id, Name: name, Color: coordinator.Palette[0], JoinedAt: time.Now().UTC()}
}
