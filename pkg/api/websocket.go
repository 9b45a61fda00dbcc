package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/ccledger/pkg/metrics"
	"github.com/uhyunpark/ccledger/pkg/prices"
	"github.com/uhyunpark/ccledger/pkg/types"
)

const (
	ChannelBlocks = "blocks"
	ChannelBets   = "bets"
	// betChannelPrefix + bet id carries events for one bet.
	betChannelPrefix = "bet:"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

type channelMessage struct {
	channel string
	data    []byte
}

// Hub maintains active WebSocket connections and fans messages out to
// subscribed clients. Only Run touches the client set.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan channelMessage
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	stopOnce   sync.Once
	log        *zap.SugaredLogger
}

// NewHub creates a new WebSocket hub
func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan channelMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		log:        log,
	}
}

// Run starts the hub's main loop; it returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			h.log.Infow("ws_client_connected", "client", client.id, "total", len(h.clients))

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				h.log.Infow("ws_client_disconnected", "client", client.id, "total", len(h.clients))
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if !client.IsSubscribed(msg.channel) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Client send buffer full, disconnect
					h.drop(client)
					h.log.Warnw("ws_client_slow", "client", client.id)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

// Stop ends Run and closes every client.
func (h *Hub) Stop() { h.stopOnce.Do(func() { close(h.quit) }) }

// BroadcastToChannel queues a message for all clients subscribed to a
// channel. It never blocks: when the queue is full the message is dropped.
func (h *Hub) BroadcastToChannel(channel string, data interface{}) {
	message, err := json.Marshal(data)
	if err != nil {
		h.log.Warnw("ws_marshal_failed", "channel", channel, "err", err)
		return
	}
	select {
	case h.broadcast <- channelMessage{channel: channel, data: message}:
	default:
		h.log.Warnw("ws_broadcast_dropped", "channel", channel)
	}
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	// Subscribed channels
	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		id:            uuid.NewString(),
		subscriptions: make(map[string]bool),
	}
}

// IsSubscribed checks if client is subscribed to a channel
func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

// Subscribe adds a channel subscription
func (c *Client) Subscribe(channel string) {
	c.subsMu.Lock()
	c.subscriptions[channel] = true
	c.subsMu.Unlock()
	c.hub.log.Debugw("ws_subscribed", "client", c.id, "channel", channel)
}

// Unsubscribe removes a channel subscription
func (c *Client) Unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subscriptions, channel)
	c.subsMu.Unlock()
	c.hub.log.Debugw("ws_unsubscribed", "client", c.id, "channel", channel)
}

// handle applies one subscription request.
func (c *Client) handle(message []byte) {
	var req WSSubscribeRequest
	if err := json.Unmarshal(message, &req); err != nil {
		c.hub.log.Debugw("ws_invalid_message", "client", c.id, "err", err)
		return
	}
	switch req.Op {
	case "subscribe":
		for _, channel := range req.Channels {
			c.Subscribe(channel)
		}
	case "unsubscribe":
		for _, channel := range req.Channels {
			c.Unsubscribe(channel)
		}
	default:
		c.hub.log.Debugw("ws_unknown_op", "client", c.id, "op", req.Op)
	}
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debugw("ws_read_error", "client", c.id, "err", err)
			}
			break
		}
		c.handle(message)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to current write
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket handles WebSocket upgrade and client lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws_upgrade_failed", "err", err)
		return
	}

	client := newClient(s.hub, conn)
	select {
	case s.hub.register <- client:
	case <-s.hub.quit:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ==============================
// Broadcast Methods (called on block commit)
// ==============================

// OnBlock broadcasts a committed block and every Prices tx in it. It is meant
// to be passed to chain.Subscribe.
func (s *Server) OnBlock(b *types.Block) {
	s.hub.BroadcastToChannel(ChannelBlocks, BlockUpdate{
		Type:   "block",
		Height: b.Height(),
		Hash:   b.Hash().Hex(),
		Time:   b.Header.Time,
		Txs:    len(b.Txs),
		Prices: b.Header.Prices,
	})

	code := uint8(s.prices.Identity().Code)
	for _, tx := range b.Txs {
		if !taggedWith(tx, code) {
			continue
		}
		pl, err := prices.DecodePayload(tx.Payload)
		if err != nil {
			continue
		}
		update := BetUpdate{Type: "bet", Func: pl.Func().String(), TxID: tx.ID().Hex(), Height: b.Height()}
		if id, ok := betOf(tx, pl); ok {
			update.BetID = id
			s.hub.BroadcastToChannel(betChannelPrefix+id, update)
		}
		s.hub.BroadcastToChannel(ChannelBets, update)
	}
}

func taggedWith(tx *types.Tx, code uint8) bool {
	for _, out := range tx.Outputs {
		if out.EvalCode == code {
			return true
		}
	}
	for _, in := range tx.Inputs {
		if in.Fulfillment.EvalCode == code {
			return true
		}
	}
	return false
}

// betOf returns the bet a Prices tx belongs to; pool deposits have none.
func betOf(tx *types.Tx, pl prices.Payload) (string, bool) {
	var id common.Hash
	switch v := pl.(type) {
	case prices.Bet:
		return tx.ID().Hex(), true
	case prices.AddFunding:
		id = v.BetID
	case prices.CostBasis:
		id = v.BetID
	case prices.Cashout:
		id = v.BetID
	case prices.Rekt:
		id = v.BetID
	default:
		return "", false
	}
	if id == (common.Hash{}) {
		return "", false
	}
	return id.Hex(), true
}
