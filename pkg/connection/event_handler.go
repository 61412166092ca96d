package connection

import (
	"sync"
	"time"

	"github.com/panjf2000/gnet/v2"
)

// EventHandler implements gnet.EventHandler for a pool's shared
// gnet.Client. It keeps a map of live gnet.Conn to the Connection that owns
// it, generalizing a map[gnet.Conn]*connBuffer
// pattern from "inbound server sessions" to "outbound client connections",
// guarded the same way with an RWMutex.
type EventHandler struct {
	mu    sync.RWMutex
	conns map[gnet.Conn]*Connection
}

// NewEventHandler builds an empty registry. One EventHandler is shared by
// every connection a single gnet.Client dials.
func NewEventHandler() *EventHandler {
	return &EventHandler{conns: make(map[gnet.Conn]*Connection)}
}

// Register associates gconn with conn before traffic can arrive for it.
// Callers invoke this immediately after Client.Dial returns, then call
// conn.Attach(gconn).
func (h *EventHandler) Register(gconn gnet.Conn, conn *Connection) {
	h.mu.Lock()
	h.conns[gconn] = conn
	h.mu.Unlock()
}

func (h *EventHandler) lookup(gconn gnet.Conn) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[gconn]
	return conn, ok
}

func (h *EventHandler) OnBoot(eng gnet.Engine) gnet.Action { return gnet.None }

func (h *EventHandler) OnShutdown(eng gnet.Engine) {}

func (h *EventHandler) OnOpen(gconn gnet.Conn) ([]byte, gnet.Action) {
	if conn, ok := h.lookup(gconn); ok {
		conn.onOpen()
	}
	return nil, gnet.None
}

func (h *EventHandler) OnClose(gconn gnet.Conn, err error) gnet.Action {
	h.mu.Lock()
	conn, ok := h.conns[gconn]
	delete(h.conns, gconn)
	h.mu.Unlock()
	if ok {
		conn.onClose(err)
	}
	return gnet.None
}

func (h *EventHandler) OnTraffic(gconn gnet.Conn) gnet.Action {
	conn, ok := h.lookup(gconn)
	if !ok {
		return gnet.Close
	}
	return conn.onTraffic(gconn)
}

func (h *EventHandler) OnTick() (time.Duration, gnet.Action) { return 0, gnet.None }
