package handler

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"realtime-board/internal/broadcast"
	"realtime-board/internal/config"
	"realtime-board/internal/coordinator"
	"realtime-board/internal/logging"
)

// eventTimeout 이벤트 하나 처리에 허용하는 시간
const eventTimeout = 5 * time.Second

// BoardWSHandler /ws/board 연결 처리
type BoardWSHandler struct {
	coord *coordinator.Coordinator
	pub   broadcast.Publisher
	cfg   config.WebSocketConfig
	log   *logrus.Entry
}

// NewBoardWSHandler BoardWSHandler 생성
func NewBoardWSHandler(coord *coordinator.Coordinator, pub broadcast.Publisher, cfg config.WebSocketConfig, log logrus.FieldLogger) *BoardWSHandler {
	return &BoardWSHandler{
		coord: coord,
		pub:   pub,
		cfg:   cfg,
		log:   logging.Component(log, "board_ws"),
	}
}

// wsClient 연결별 송신 큐. broadcast.Sink 구현.
type wsClient struct {
	id        string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(id string, queue int) *wsClient {
	return &wsClient{
		id:   id,
		send: make(chan []byte, queue),
		done: make(chan struct{}),
	}
}

func (c *wsClient) ID() string { return c.id }

// Enqueue 큐가 가득 찼거나 닫힌 연결이면 false
func (c *wsClient) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// HandleWebSocket 연결 하나의 수명 주기.
// 읽기는 이 고루틴에서, 쓰기는 writePump에서 처리한다.
func (h *BoardWSHandler) HandleWebSocket(c *websocket.Conn) {
	client := newWSClient(uuid.NewString(), h.cfg.SendQueueSize)
	conn := coordinator.NewConnection(client.id)
	entry := h.log.WithField("conn_id", client.id)

	h.pub.Register(client)
	h.coord.Connect(conn)

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		h.writePump(c, client, entry)
	}()

	reason := h.readLoop(c, client, conn, entry)

	// 남은 세션 정리는 읽기 종료 후 항상 수행
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	h.coord.Disconnect(ctx, conn, reason)
	cancel()

	h.pub.Unregister(client.id)
	client.close()
	<-pumpDone
	_ = c.Close()
}

func (h *BoardWSHandler) readLoop(c *websocket.Conn, client *wsClient, conn *coordinator.Connection, entry *logrus.Entry) string {
	if h.cfg.MaxMessageSize > 0 {
		c.SetReadLimit(h.cfg.MaxMessageSize)
	}
	if h.cfg.PongWait > 0 {
		_ = c.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		})
	}

	for {
		messageType, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				entry.WithError(err).Warn("WebSocket read error")
				return "read error"
			}
			return "client closed"
		}

		select {
		case <-client.done:
			return "write failed"
		default:
		}

		if messageType != websocket.TextMessage {
			entry.WithField("message_type", messageType).Debug("Ignoring non-text frame")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		h.coord.Handle(ctx, conn, data)
		cancel()

		if h.cfg.PongWait > 0 {
			_ = c.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		}
	}
}

// writePump 송신 큐를 소켓에 기록하고 주기적으로 ping 전송
func (h *BoardWSHandler) writePump(c *websocket.Conn, client *wsClient, entry *logrus.Entry) {
	period := h.cfg.PingPeriod()
	if period <= 0 {
		period = 54 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-client.done:
			// 닫히기 전에 쌓인 메시지는 가능한 만큼 보냄
			for {
				select {
				case data := <-client.send:
					if err := h.write(c, websocket.TextMessage, data); err != nil {
						return
					}
				default:
					_ = h.write(c, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}

		case data := <-client.send:
			if err := h.write(c, websocket.TextMessage, data); err != nil {
				entry.WithError(err).Warn("WebSocket write failed")
				client.close()
				_ = c.Close()
				return
			}

		case <-ticker.C:
			if err := h.write(c, websocket.PingMessage, nil); err != nil {
				entry.WithError(err).Debug("Ping failed")
				client.close()
				_ = c.Close()
				return
			}
		}
	}
}

func (h *BoardWSHandler) write(c *websocket.Conn, messageType int, data []byte) error {
	if h.cfg.WriteTimeout > 0 {
		if err := c.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	return c.WriteMessage(messageType, data)
}
