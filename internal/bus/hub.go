package bus

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/m2osw/ipload/internal/logger"
)

// Handler processes one inbound Message and optionally returns a reply to
// send back to the same peer.
type Handler func(Message) (Message, bool)

// Peer is one connected bus client.
type Peer struct {
	id   string
	conn *websocket.Conn
	send chan Message
}

// Hub manages connected bus peers: registration, per-peer send queues, and
// broadcast, mirroring the register/unregister/broadcast event loop the
// teacher's websocket.Hub uses for browser clients.
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	peers map[string]*Peer

	register   chan *Peer
	unregister chan *Peer
	broadcast  chan Message

	handler Handler
	log     *logger.Logger

	// token, when non-empty, is the pre-shared bus credential every peer
	// must present as "Authorization: Bearer <token>" to connect. This
	// replaces the teacher's security.AuthService JWT check (see
	// DESIGN.md): bus peers are local daemon/CLI processes, not browser
	// sessions, so a shared secret stands in for a signed bearer token.
	token string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a Hub that dispatches inbound messages to handler. When
// token is non-empty, every connecting peer must present it.
func NewHub(log *logger.Logger, token string, handler Handler) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		peers:      make(map[string]*Peer),
		register:   make(chan *Peer),
		unregister: make(chan *Peer),
		broadcast:  make(chan Message, 64),
		handler:    handler,
		log:        log,
		token:      token,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run drives the hub's event loop. Call it in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for id, p := range h.peers {
				close(p.send)
				delete(h.peers, id)
			}
			h.mu.Unlock()
			h.log.Info("bus hub shut down")
			return

		case p := <-h.register:
			h.mu.Lock()
			h.peers[p.id] = p
			h.mu.Unlock()
			h.log.Info("bus peer registered", "peer", p.id, "total", len(h.peers))

		case p := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.peers[p.id]; ok {
				close(p.send)
				delete(h.peers, p.id)
			}
			h.mu.Unlock()
			h.log.Info("bus peer unregistered", "peer", p.id)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, p := range h.peers {
				select {
				case p.send <- msg:
				default:
					h.log.Warn("dropping message: peer send queue full", "peer", p.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop ends the hub's event loop, per spec §4.9's "unregisters" shutdown
// behavior.
func (h *Hub) Stop() {
	h.cancel()
}

// Broadcast queues msg for delivery to every connected peer (used for
// FIREWALL_UP).
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	}
}

// ServeHTTP upgrades an HTTP connection to a websocket bus peer and pumps
// messages until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && r.Header.Get("Authorization") != "Bearer "+h.token {
		h.log.Warn("rejecting bus peer with missing or invalid token", "peer", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("bus upgrade failed", "error", err)
		return
	}
	peer := &Peer{id: r.RemoteAddr, conn: conn, send: make(chan Message, 16)}

	select {
	case h.register <- peer:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go h.writePump(peer)
	h.readPump(peer)
}

func (h *Hub) readPump(p *Peer) {
	defer func() {
		select {
		case h.unregister <- p:
		case <-h.ctx.Done():
		}
		p.conn.Close()
	}()
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := Decode(data)
		if err != nil {
			h.log.Warn("discarding malformed bus message", "peer", p.id, "error", err)
			continue
		}
		if h.handler == nil {
			continue
		}
		reply, ok := h.handler(msg)
		if ok {
			select {
			case p.send <- reply:
			default:
				h.log.Warn("dropping reply: peer send queue full", "peer", p.id)
			}
		}
	}
}

func (h *Hub) writePump(p *Peer) {
	for msg := range p.send {
		data, err := Encode(msg)
		if err != nil {
			h.log.Error("failed to encode bus message", "error", err)
			continue
		}
		if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
