package socket

import (
	"encoding/json"
	"sync"
	"time"

	"draftkeep/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	// DraftUpdateType tells sibling sessions the server accepted a push and
	// what version it produced, so a stale tab learns it is behind before
	// its own next push.
	DraftUpdateType    = "DRAFT_UPDATE"
	DraftDiscardType   = "DRAFT_DISCARDED"
	DraftPublishType   = "DRAFT_PUBLISHED"
	LockClaimType      = "LOCK_CLAIMED"
	LockReleaseType    = "LOCK_RELEASED"
	PresenceUpdateType = "PRESENCE_UPDATE"
)

// WSMessage is the envelope for every event fanned out to an owner's
// connected sessions. The hub is advisory only: nothing here gates writes,
// the draft store's version check is the correctness mechanism.
type WSMessage struct {
	Type    string          `json:"type"`
	OwnerID string          `json:"owner_id"`
	TabID   string          `json:"tab_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TabStatus describes one connected editor session of an owner.
type TabStatus struct {
	TabID    string    `json:"tab_id"`
	LastSeen time.Time `json:"last_seen"`
}

// Hub fans events out to all sessions of an owner. Rooms are keyed by owner:
// two tabs, or a laptop and a phone, editing under the same identity land in
// the same room.
type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan WSMessage
	Register   chan *Client
	Unregister chan *Client
	mu         sync.Mutex
	Presence   map[string]map[string]TabStatus // ownerID -> tabID -> status
}

type Client struct {
	Hub     *Hub
	Conn    *websocket.Conn
	OwnerID string
	TabID   string
	Send    chan []byte
}

func NewHub() *Hub {
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan WSMessage, 64),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Presence:   make(map[string]map[string]TabStatus),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.OwnerID] == nil {
				h.Rooms[client.OwnerID] = make(map[*Client]bool)
				h.Presence[client.OwnerID] = make(map[string]TabStatus)
			}
			h.Rooms[client.OwnerID][client] = true
			h.Presence[client.OwnerID][client.TabID] = TabStatus{TabID: client.TabID, LastSeen: time.Now()}
			h.mu.Unlock()

			h.broadcastPresenceUpdate(client.OwnerID)

		case client := <-h.Unregister:
			h.mu.Lock()
			ownerID := client.OwnerID
			if _, ok := h.Rooms[client.OwnerID][client]; ok {
				delete(h.Rooms[client.OwnerID], client)
				delete(h.Presence[client.OwnerID], client.TabID)
				close(client.Send)

				if len(h.Rooms[client.OwnerID]) == 0 {
					delete(h.Rooms, client.OwnerID)
					delete(h.Presence, client.OwnerID)
					logger.Sugar.Infof("Closed empty room for owner %s", client.OwnerID)
				}
			}
			h.mu.Unlock()

			if h.Rooms[ownerID] != nil {
				h.broadcastPresenceUpdate(ownerID)
			}

		case msg := <-h.Broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
				continue
			}

			// Collect recipients under the lock, send outside it. The tab
			// that caused the event already knows; everyone else gets told.
			h.mu.Lock()
			clientsToSend := make([]*Client, 0, len(h.Rooms[msg.OwnerID]))
			for client := range h.Rooms[msg.OwnerID] {
				if client.TabID != msg.TabID {
					clientsToSend = append(clientsToSend, client)
				}
			}
			h.mu.Unlock()

			for _, client := range clientsToSend {
				select {
				case client.Send <- payload:
				default:
					// Full send buffer means a lagging client. Run is the
					// only receiver of Unregister, so re-queueing through it
					// would block this loop on itself; drop inline instead.
					logger.Sugar.Warnf("Tab %s's send buffer is full. Dropping it.", client.TabID)
					h.dropClient(client)
				}
			}
		}
	}
}

// dropClient removes a lagging client from its room without going through the
// Unregister channel. Closing the connection makes readPump issue the regular
// unregister later, which finds the client already gone and no-ops.
func (h *Hub) dropClient(client *Client) {
	h.mu.Lock()
	_, ok := h.Rooms[client.OwnerID][client]
	if ok {
		delete(h.Rooms[client.OwnerID], client)
		delete(h.Presence[client.OwnerID], client.TabID)
		close(client.Send)
		if len(h.Rooms[client.OwnerID]) == 0 {
			delete(h.Rooms, client.OwnerID)
			delete(h.Presence, client.OwnerID)
			logger.Sugar.Infof("Closed empty room for owner %s", client.OwnerID)
		}
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	if client.Conn != nil {
		client.Conn.Close()
	}
	h.broadcastPresenceUpdate(client.OwnerID)
}

// Notify is the entry point for server-side events (accepted pushes,
// discards). It never blocks the caller's request path.
func (h *Hub) Notify(msg WSMessage) {
	select {
	case h.Broadcast <- msg:
	default:
		logger.Sugar.Warn("Hub broadcast channel is full, dropping notification")
	}
}

func (h *Hub) broadcastPresenceUpdate(ownerID string) {
	var statuses []TabStatus
	var clientsToSend []*Client

	h.mu.Lock()
	if _, ok := h.Presence[ownerID]; ok {
		statuses = make([]TabStatus, 0, len(h.Presence[ownerID]))
		for _, status := range h.Presence[ownerID] {
			statuses = append(statuses, status)
		}
		clientsToSend = make([]*Client, 0, len(h.Rooms[ownerID]))
		for client := range h.Rooms[ownerID] {
			clientsToSend = append(clientsToSend, client)
		}
	}
	h.mu.Unlock()

	if len(clientsToSend) == 0 {
		return
	}

	payload, err := json.Marshal(statuses)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling presence broadcast: %v", err)
		return
	}
	broadcastPayload, _ := json.Marshal(WSMessage{Type: PresenceUpdateType, OwnerID: ownerID, Payload: payload})

	for _, client := range clientsToSend {
		select {
		case client.Send <- broadcastPayload:
		default:
			logger.Sugar.Warnf("Tab %s's send buffer was full during presence update.", client.TabID)
		}
	}
}
