package chat

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/relaychat/relay/internal/config"
	"github.com/relaychat/relay/internal/store"
)

// MessageStore is the persistence collaborator the hub writes through before
// any fanout. *store.Store satisfies it; tests use fakes.
type MessageStore interface {
	SaveGlobalMessage(ctx context.Context, senderID int64, senderName, content string) (store.GlobalMessage, error)
	LatestGlobalMessages(ctx context.Context, limit int) ([]store.GlobalMessage, error)
	SavePrivateMessage(ctx context.Context, senderID, receiverID int64, content string) (store.PrivateMessage, error)
	PrivateHistory(ctx context.Context, userA, userB int64, limit int) ([]store.PrivateHistoryEntry, error)
	UnreadCountsBySender(ctx context.Context, userID int64) (map[int64]int64, error)
	TotalUnreadCount(ctx context.Context, userID int64) (int64, error)
	MarkRead(ctx context.Context, receiverID, senderID int64) (int64, error)
}

// Hub owns the connection registry and the online roster, and routes every
// event to the connections it concerns. Registrations and unregistrations
// are serialized through Run; fanout takes registry snapshots under a read
// lock.
type Hub struct {
	store MessageStore

	clients map[*Client]struct{}
	roster  map[int64]Identity

	register   chan *Client
	unregister chan *Client

	maxMessageSize int64
	rateLimit      config.RateLimitConfig

	mutex  sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub over the given store and configuration. The returned
// Hub is inert until Run is called.
func NewHub(st MessageStore, cfg *config.Config) *Hub {
	cfg = cfg.Sanitize()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:          st,
		clients:        make(map[*Client]struct{}),
		roster:         make(map[int64]Identity),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimit:      cfg.RateLimit,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
}

// Register hands a new authenticated connection to the hub. The hub inserts
// it into the registry and starts its pumps; no events are dispatched for
// the connection before registration completes. A connection arriving after
// shutdown has begun is refused and closed.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		if client == nil || client.conn == nil {
			return
		}
		log.Printf("Refusing connection from %s: hub is shutting down", client.addr)
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing refused connection from %s: %v", client.addr, err)
		}
	}
}

// Run is the hub's main event loop. It should be called in its own
// goroutine; it returns only on Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// addClient inserts the connection into the registry, updates the roster,
// and starts the pumps. The joined broadcast fires only on the identity's
// first connection; roster metadata is last-write-wins on every connection.
func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client] = struct{}{}
	_, alreadyOnline := h.roster[client.identity.ID]
	h.roster[client.identity.ID] = client.identity
	connectionCount := len(h.clients)
	onlineCount := len(h.roster)
	h.mutex.Unlock()

	metricConnectionsActive.Set(float64(connectionCount))
	metricUsersOnline.Set(float64(onlineCount))

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()

	if alreadyOnline {
		log.Printf("User %s (id=%d) connected an additional device from %s. Total connections: %d",
			client.identity.Username, client.identity.ID, client.addr, connectionCount)
	} else {
		log.Printf("User %s (id=%d) connected from %s. Total connections: %d",
			client.identity.Username, client.identity.ID, client.addr, connectionCount)
		h.Broadcast(EventUserJoined, client.identity.Username)
	}

	h.broadcastRoster()

	// Unread counts come from the store; keep that I/O off the hub loop.
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.pushUnreadCounts(client.identity.ID)
		h.pushTotalUnread(client.identity.ID)
	}()
}

// removeClient removes the connection from the registry. It is idempotent; a
// second unregister for the same connection is a no-op. The left broadcast
// fires only when the identity's last connection goes away.
func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.closed = true

	wasLast := true
	for other := range h.clients {
		if other.identity.ID == client.identity.ID {
			wasLast = false
			break
		}
	}
	if wasLast {
		delete(h.roster, client.identity.ID)
	}
	connectionCount := len(h.clients)
	onlineCount := len(h.roster)
	h.mutex.Unlock()

	// Close the channel after releasing the lock.
	close(client.send)

	metricConnectionsActive.Set(float64(connectionCount))
	metricUsersOnline.Set(float64(onlineCount))

	if wasLast {
		log.Printf("User %s (id=%d) disconnected. Total connections: %d",
			client.identity.Username, client.identity.ID, connectionCount)
		h.Broadcast(EventUserLeft, client.identity.Username)
	} else {
		log.Printf("User %s (id=%d) closed one of their connections. Total connections: %d",
			client.identity.Username, client.identity.ID, connectionCount)
	}

	h.broadcastRoster()
}

// safeSend queues payload on the client's send channel if the client is
// still registered. It never blocks; a full buffer counts as a failed
// delivery.
func (h *Hub) safeSend(client *Client, payload []byte) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// connectionsFor returns a snapshot of every connection bound to the given
// identity. Concurrent mutations are not visible mid-iteration.
func (h *Hub) connectionsFor(userID int64) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var conns []*Client
	for client := range h.clients {
		if client.identity.ID == userID {
			conns = append(conns, client)
		}
	}
	return conns
}

// SendToUser delivers an event to every connection of the given identity.
// An offline identity is a silent no-op; a failed delivery to one connection
// does not affect the others.
func (h *Hub) SendToUser(userID int64, event string, data any) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		log.Printf("Error encoding %s event for user %d: %v", event, userID, err)
		return
	}
	for _, client := range h.connectionsFor(userID) {
		if !h.safeSend(client, payload) {
			metricDeliveriesDropped.Inc()
			log.Printf("Dropped %s event for %s: send buffer unavailable", event, client.addr)
		}
	}
}

// Broadcast delivers an event to every registered connection.
func (h *Hub) Broadcast(event string, data any) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		log.Printf("Error encoding %s broadcast: %v", event, err)
		return
	}

	h.mutex.RLock()
	snapshot := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		snapshot = append(snapshot, client)
	}
	h.mutex.RUnlock()

	for _, client := range snapshot {
		if !h.safeSend(client, payload) {
			metricDeliveriesDropped.Inc()
			log.Printf("Dropped %s broadcast for %s: send buffer unavailable", event, client.addr)
		}
	}
}

// Snapshot returns the current roster, sorted by username.
func (h *Hub) Snapshot() []Identity {
	h.mutex.RLock()
	users := make([]Identity, 0, len(h.roster))
	for _, identity := range h.roster {
		users = append(users, identity)
	}
	h.mutex.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// usernameFor resolves an online identity's display name from the roster.
func (h *Hub) usernameFor(userID int64) (string, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	identity, ok := h.roster[userID]
	return identity.Username, ok
}

func (h *Hub) broadcastRoster() {
	h.Broadcast(EventOnlineUsersList, h.Snapshot())
}

// shutdownClients closes all active client connections.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown and waits for the run loop and all
// client goroutines to finish, or for the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
