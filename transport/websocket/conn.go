// Package websocket adapts gorilla/websocket connections to the relay
// core: one reader and one writer goroutine per connection, plus the
// application-level liveness probe.
package websocket

import (
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joaovs2004/jvs-together-websocket/party/protocol"
	"github.com/joaovs2004/jvs-together-websocket/party/room"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Interval between liveness probes. A peer that has not answered
	// the previous probe by the next tick is considered dead.
	pingInterval = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Outbound buffer per connection; a peer that cannot drain this
	// fast enough starts dropping messages.
	sendBuffer = 256
)

// MessageHandler dispatches one inbound message from a connection.
type MessageHandler interface {
	Handle(conn protocol.Conn, data []byte)
}

// Rooms is the slice of the registry the transport needs: evicting a
// member on disconnect.
type Rooms interface {
	Remove(conn room.Conn)
}

// Conn wraps one websocket connection. The liveness probe is a JSON
// ping/pong exchange rather than a websocket control frame because the
// original browser clients answer in-band.
type Conn struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	alive   atomic.Bool
	handler MessageHandler
	rooms   Rooms

	pingEvery time.Duration
}

// NewConn wraps ws with the relay's per-connection machinery. id is
// the server-generated client identifier for the connection's
// lifetime.
func NewConn(id string, ws *websocket.Conn, handler MessageHandler, rooms Rooms) *Conn {
	return &Conn{
		id:        id,
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		handler:   handler,
		rooms:     rooms,
		pingEvery: pingInterval,
	}
}

// ID returns the server-generated client identifier.
func (c *Conn) ID() string { return c.id }

// ErrSendBufferFull is returned when a peer cannot drain its outbound
// buffer fast enough.
var ErrSendBufferFull = errors.New("send buffer full")

// Send queues data for delivery. It never blocks; a peer whose buffer
// overflows is force-closed, which runs the normal disconnect path and
// evicts the member from its rooms.
func (c *Conn) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		log.Printf("[ws] send buffer overflow clientId=%s, closing", c.id)
		c.ws.Close()
		return ErrSendBufferFull
	}
}

// Close tears down the underlying socket, which unwinds both pumps and
// runs the normal disconnect path.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// MarkAlive records a liveness acknowledgment from the peer.
func (c *Conn) MarkAlive() {
	c.alive.Store(true)
}

// Start launches the pumps and greets the peer with its identifier.
func (c *Conn) Start() {
	c.alive.Store(true)
	go c.writePump()
	go c.readPump()
	c.Send(protocol.ClientConnected(c.id))
}

// readPump reads inbound messages and hands them to the router one at
// a time, so messages from a single connection are never processed
// concurrently with each other. On exit the member is evicted from its
// room.
func (c *Conn) readPump() {
	defer func() {
		c.rooms.Remove(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] read error clientId=%s: %v", c.id, err)
			}
			return
		}
		c.handler.Handle(c, data)
	}
}

// writePump drains the send queue and runs the liveness probe. When a
// probe tick finds the previous probe unacknowledged, the socket is
// force-closed; the read pump then runs the same cleanup as a
// voluntary disconnect.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if !c.alive.Swap(false) {
				log.Printf("[ws] liveness probe unanswered clientId=%s, closing", c.id)
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, protocol.Ping()); err != nil {
				return
			}
		}
	}
}
