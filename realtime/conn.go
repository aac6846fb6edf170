package realtime

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// envelope is the wire frame every event, in either direction, is
// carried in: {event, payload}.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// HandlerFunc processes one inbound event's payload for a connection.
type HandlerFunc func(c *Conn, payload json.RawMessage)

// Conn wraps a single websocket connection with a per-connection
// handler registration table. RegisterHandlers must be called with
// the connection's full handler set each time the operational
// handlers change (e.g. on driver approval): it replaces the table
// wholesale so reconnect logic never stacks duplicate listeners, the
// analogue of "removeAllListeners" (§9).
type Conn struct {
	ws   *websocket.Conn
	ns   Namespace
	log  zerolog.Logger

	UserID   string
	DriverID string
	BusID    string
	RouteID  string
	Guest    bool

	writeMu sync.Mutex

	handlerMu sync.Mutex
	handlers  map[string]HandlerFunc

	closed chan struct{}
}

func newConn(ws *websocket.Conn, ns Namespace, log zerolog.Logger) *Conn {
	return &Conn{ws: ws, ns: ns, log: log, handlers: map[string]HandlerFunc{}, closed: make(chan struct{})}
}

// Done returns a channel closed once this connection has been torn
// down, used by background per-connection loops (heartbeat refresh)
// to stop without leaking a goroutine.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// RegisterHandlers replaces the connection's entire handler table.
func (c *Conn) RegisterHandlers(handlers map[string]HandlerFunc) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers = handlers
}

// ClearHandlers empties the handler table, used while a driver socket
// is held pending approval or bus assignment.
func (c *Conn) ClearHandlers() {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers = map[string]HandlerFunc{}
}

func (c *Conn) handlerFor(event string) (HandlerFunc, bool) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	fn, ok := c.handlers[event]
	return fn, ok
}

// Send marshals payload and writes it as the named event. Writes are
// serialized per connection since gorilla/websocket forbids
// concurrent writers.
func (c *Conn) Send(event string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(envelope{Event: event, Payload: body})
}

// SendError emits a generic error event without disconnecting, per
// §7's propagation policy.
func (c *Conn) SendError(message string) {
	_ = c.Send(EventError, map[string]string{"message": message})
}

// readLoop dispatches inbound frames to the registered handler table
// until the connection closes or errors. Handler panics are recovered
// and logged rather than allowed to kill the read loop, matching the
// "catches all handler exceptions" contract.
func (c *Conn) readLoop() {
	for {
		var env envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			return
		}
		c.dispatch(env)
	}
}

func (c *Conn) dispatch(env envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("event", env.Event).Msg("realtime: handler panicked")
			c.SendError("internal error")
		}
	}()

	fn, ok := c.handlerFor(env.Event)
	if !ok {
		return
	}
	fn(c, env.Payload)
}

func (c *Conn) close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	_ = c.ws.Close()
}
