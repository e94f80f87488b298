package rpc

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"github.com/FusionX-io/bridge-go/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The RPC carries no cookies or credentials; origin checks belong
	// to the deployment's proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClient is one websocket peer: a read loop answering RPC requests
// and a write pump multiplexing responses, event pushes, and pings.
type wsClient struct {
	srv  *Server
	conn *websocket.Conn
	ip   string

	mu     sync.Mutex
	subs   map[string]bool // bus subscription ids held by this peer
	closed bool

	outbound chan interface{}
	done     chan struct{}
}

func (srv *Server) handleWS(c *gin.Context) {
	if !srv.limiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests,
			errResponse(nil, CodeRateLimited, "rate limit exceeded", ""))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("websocket upgrade failed: err=%v", err)
		return
	}

	client := &wsClient{
		srv:      srv,
		conn:     conn,
		ip:       c.ClientIP(),
		subs:     make(map[string]bool),
		outbound: make(chan interface{}, 64),
		done:     make(chan struct{}),
	}
	go client.writePump()
	client.readLoop()
}

// Subscribe wires a bus subscription whose events are pushed down this
// connection. Pushes never block the bus: a peer that cannot drain its
// buffer loses the event and a warning is logged.
func (cl *wsClient) Subscribe(filter *eventbus.Filter) string {
	subID := cl.srv.bus.Subscribe(filter, func(ev *eventbus.EventMessage) {
		if !cl.send(ev) {
			logger.Warnf("websocket peer too slow, dropping event: order=%s", ev.Metadata.OrderID)
		}
	})

	cl.mu.Lock()
	cl.subs[subID] = true
	cl.mu.Unlock()
	return subID
}

func (cl *wsClient) Unsubscribe(id string) bool {
	cl.mu.Lock()
	owned := cl.subs[id]
	delete(cl.subs, id)
	cl.mu.Unlock()

	if !owned {
		return false
	}
	return cl.srv.bus.Unsubscribe(id)
}

func (cl *wsClient) readLoop() {
	defer cl.teardown()

	cl.conn.SetReadLimit(maxBodyBytes)
	cl.conn.SetReadDeadline(time.Now().Add(2 * cl.srv.cfg.KeepAliveInterval))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(2 * cl.srv.cfg.KeepAliveInterval))
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			cl.send(errResponse(nil, CodeParseError, "parse error", ""))
			continue
		}

		// per-message, same window as the HTTP surface
		if !cl.srv.limiter.Allow(cl.ip) {
			cl.send(errResponse(req.ID, CodeRateLimited, "rate limit exceeded", ""))
			continue
		}
		cl.send(cl.srv.dispatch(&req, cl))
	}
}

// send queues a message for the write pump without ever blocking the
// caller. Reports false when the peer is gone or its buffer is full.
func (cl *wsClient) send(msg interface{}) bool {
	select {
	case <-cl.done:
		return false
	default:
	}
	select {
	case cl.outbound <- msg:
		return true
	default:
		return false
	}
}

func (cl *wsClient) writePump() {
	ticker := time.NewTicker(cl.srv.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			return
		case msg := <-cl.outbound:
			cl.conn.SetWriteDeadline(time.Now().Add(cl.srv.cfg.WriteTimeout))
			if err := cl.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(cl.srv.cfg.WriteTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (cl *wsClient) teardown() {
	cl.mu.Lock()
	if cl.closed {
		cl.mu.Unlock()
		return
	}
	cl.closed = true
	subs := make([]string, 0, len(cl.subs))
	for id := range cl.subs {
		subs = append(subs, id)
	}
	cl.subs = map[string]bool{}
	cl.mu.Unlock()

	for _, id := range subs {
		cl.srv.bus.Unsubscribe(id)
	}
	close(cl.done)
	cl.conn.Close()
}
