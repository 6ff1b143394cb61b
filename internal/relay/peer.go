package relay

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// peer is one websocket connected to the relay.
type peer struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	writeTimeout time.Duration
	pingInterval time.Duration
	pongTimeout  time.Duration

	closeOnce sync.Once
	done      chan struct{}
	overflow  atomic.Bool
}

func newPeer(id string, conn *websocket.Conn, bufferSize int, logger *slog.Logger) *peer {
	return &peer{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, bufferSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (p *peer) ID() string {
	return p.id
}

// Enqueue queues data for the write pump. A full queue disconnects the peer.
func (p *peer) Enqueue(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.send <- data:
		return true
	default:
		p.logger.Warn("peer send queue full, disconnecting", "queued", len(p.send))
		p.overflow.Store(true)
		p.close()
		return false
	}
}

// close stops the write pump; the read pump exits once the socket closes.
func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// writePump owns all writes to the socket.
func (p *peer) writePump() {
	ticker := time.NewTicker(p.pingInterval)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case data := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.logger.Debug("peer write failed", "error", err)
				p.close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(p.writeTimeout)
			if err := p.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				p.logger.Debug("peer ping failed", "error", err)
				p.close()
				return
			}

		case <-p.done:
			p.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}

// readPump reads frames until the socket fails and hands each to handle.
func (p *peer) readPump(maxSize int64, handle func(*peer, []byte)) {
	defer p.close()

	if maxSize > 0 {
		p.conn.SetReadLimit(maxSize)
	}
	extend := func() {
		p.conn.SetReadDeadline(time.Now().Add(p.pongTimeout))
	}
	extend()

	p.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	p.conn.SetPingHandler(func(data string) error {
		extend()
		err := p.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Debug("peer read error", "error", err)
			}
			return
		}
		extend()
		handle(p, data)
	}
}
