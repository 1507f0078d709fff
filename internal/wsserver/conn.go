package wsserver

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/topology"
	pubtopology "github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

var (
	// ErrConnectionClosed is returned when sending to a closed connection
	ErrConnectionClosed = errors.New("websocket connection closed")
	// ErrSendQueueFull is returned when a connection's outbound queue is full
	ErrSendQueueFull = errors.New("websocket send queue full")
)

// conn is one WebSocket connection. Outbound frames go through a bounded
// queue drained by writeLoop, so Send never blocks the manager.
type conn struct {
	server *Server
	ws     *websocket.Conn
	ip     string

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	leaves []*topology.Leaf
	admin  *topology.Admin
}

func newConn(s *Server, ws *websocket.Conn, ip string) *conn {
	return &conn{
		server: s,
		ws:     ws,
		ip:     ip,
		out:    make(chan []byte, s.config.SendBuffer),
		done:   make(chan struct{}),
	}
}

// Send queues msg as a JSON text frame.
func (c *conn) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendQueueFull
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *conn) registrations() ([]*topology.Leaf, *topology.Admin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaves, c.admin
}

func (c *conn) readLoop() {
	cfg := c.server.config
	c.ws.SetReadLimit(cfg.MaxMessage)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	metadata := pubtopology.Metadata{"ip": c.ip}
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debug().Err(err).Str("remote", c.ip).Msg("websocket read failed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		res, err := c.server.comm.HandleMessage(data, metadata, c)
		if err != nil {
			c.server.metrics.InvalidMessage(transportName)
			c.server.logger.Warn().Err(err).Str("remote", c.ip).Msg("could not handle message")
			continue
		}

		c.mu.Lock()
		if res.Leaf != nil {
			c.leaves = append(c.leaves, res.Leaf)
		}
		if res.Admin != nil {
			previous := c.admin
			c.admin = res.Admin
			c.mu.Unlock()
			// one admin registration per connection
			if previous != nil {
				c.server.manager.RemoveAdmin(previous)
			}
			continue
		}
		c.mu.Unlock()
	}
}

func (c *conn) writeLoop() {
	cfg := c.server.config
	ticker := time.NewTicker(cfg.PongTimeout * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.server.logger.Debug().Err(err).Str("remote", c.ip).Msg("websocket write failed")
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				c.close()
				return
			}
		}
	}
}
