package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/schemasmith/schemasmith/internal/autosave"
	"github.com/schemasmith/schemasmith/internal/draft"
	"github.com/schemasmith/schemasmith/internal/metrics"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type inboundMessage struct {
	client   *Client
	envelope Envelope
}

// Hub owns every websocket connection and the project rooms they join. All
// room state is touched only by the run goroutine, so messages from a given
// connection are applied strictly in arrival order.
type Hub struct {
	autosaves autosave.Store
	drafts    *draft.Engine
	clock     Clock
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage
	stop       chan chan struct{}

	// rooms and clients are owned by run.
	rooms   map[string]map[*Client]bool
	clients map[*Client]bool
}

// NewHub builds a Hub. Call Run before serving connections.
func NewHub(autosaves autosave.Store, drafts *draft.Engine, clock Clock, logger *zap.Logger) *Hub {
	return &Hub{
		autosaves: autosaves,
		drafts:    drafts,
		clock:     clock,
		logger:    logger.Named("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundMessage, 256),
		stop:       make(chan chan struct{}),
		rooms:      make(map[string]map[*Client]bool),
		clients:    make(map[*Client]bool),
	}
}

// Run processes registrations and messages until Shutdown.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			metrics.IncConnections()
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.inbound:
			h.dispatch(msg)
		case done := <-h.stop:
			for client := range h.clients {
				close(client.send)
				_ = client.conn.Close()
			}
			h.clients = make(map[*Client]bool)
			h.rooms = make(map[string]map[*Client]bool)
			close(done)
			return
		}
	}
}

// Shutdown stops the run loop and closes every connection.
func (h *Hub) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case h.stop <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeWS upgrades the request and starts the connection pumps. The caller
// must have authenticated userID already.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := newClient(h, conn, userID, h.logger)
	h.register <- client
	go client.writePump()
	go client.readPump()
}

func (h *Hub) removeClient(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.send)
	_ = client.conn.Close()
	metrics.DecConnections()

	if client.projectID == "" {
		return
	}
	room := h.rooms[client.projectID]
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, client.projectID)
		return
	}
	h.broadcast(client.projectID, client, EventUserLeft, UserLeftPayload{
		ProjectID: client.projectID,
		UserID:    client.userID,
	})
}

func (h *Hub) dispatch(msg inboundMessage) {
	client := msg.client
	if !h.clients[client] {
		return
	}
	switch msg.envelope.Event {
	case EventJoinProject:
		h.handleJoin(client, msg.envelope)
	case EventTriggerAutosave:
		h.handleTriggerAutosave(client, msg.envelope)
	case EventCursorMove:
		h.relayCursor(client, msg.envelope)
	case EventTextSelect:
		h.relaySelection(client, msg.envelope)
	case EventGetAutosaveStatus:
		h.handleAutosaveStatus(client)
	case "":
		client.sendError("bad_envelope", "message is not a valid envelope")
	default:
		client.sendError("unknown_event", "unsupported event: "+msg.envelope.Event)
	}
}

func (h *Hub) handleJoin(client *Client, env Envelope) {
	var payload JoinProjectPayload
	if err := decode(env, &payload); err != nil || payload.ProjectID == "" {
		client.sendError("bad_payload", "join-project requires project_id")
		return
	}
	if !h.drafts.Owns(context.Background(), payload.ProjectID, client.userID) {
		client.sendError("forbidden", "project belongs to another user")
		return
	}

	// Leaving a previous room is implicit: one room per connection.
	if client.projectID != "" && client.projectID != payload.ProjectID {
		if room := h.rooms[client.projectID]; room != nil {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, client.projectID)
			}
		}
	}

	room := h.rooms[payload.ProjectID]
	if room == nil {
		room = make(map[*Client]bool)
		h.rooms[payload.ProjectID] = room
	}
	room[client] = true
	client.projectID = payload.ProjectID

	collaborators := make([]string, 0, len(room))
	for peer := range room {
		collaborators = append(collaborators, peer.userID)
	}
	h.send(client, EventJoinedProject, JoinedPayload{
		ProjectID:     payload.ProjectID,
		Collaborators: collaborators,
	})
}

func (h *Hub) handleTriggerAutosave(client *Client, env Envelope) {
	var payload TriggerAutosavePayload
	if err := decode(env, &payload); err != nil {
		client.sendError("bad_payload", "trigger-autosave payload is invalid")
		return
	}
	projectID := payload.ProjectID
	if projectID == "" {
		projectID = client.projectID
	}
	if projectID == "" {
		client.sendError("no_project", "join a project before saving")
		return
	}
	if !h.drafts.Owns(context.Background(), projectID, client.userID) {
		client.sendError("forbidden", "project belongs to another user")
		return
	}

	ctx := context.Background()
	state, err := h.autosaves.Save(ctx, projectID, client.userID, payload.Content, nil)
	if err != nil {
		h.logger.Error("autosave via websocket failed",
			zap.String("project_id", projectID),
			zap.String("user_id", client.userID),
			zap.Error(err),
		)
		client.sendError("save_failed", "autosave could not be persisted")
		return
	}
	metrics.ObserveAutosave("auto")

	if _, err := h.drafts.AddVersion(ctx, projectID, client.userID, payload.Content, draft.Meta{
		Author: client.userID,
		Auto:   true,
	}); err != nil {
		// The autosave state is already durable; the missing snapshot only
		// narrows history.
		h.logger.Warn("autosave snapshot failed",
			zap.String("project_id", projectID),
			zap.Error(err),
		)
	} else {
		metrics.ObserveVersion("auto")
	}

	h.send(client, EventAutosaveComplete, AutosaveCompletePayload{
		ProjectID:   projectID,
		Version:     state.Version,
		LastSavedAt: state.LastSavedAt,
	})
	h.broadcast(projectID, client, EventCollaboratorSaved, CollaboratorSavedPayload{
		ProjectID: projectID,
		UserID:    client.userID,
		Version:   state.Version,
		SavedAt:   state.LastSavedAt,
	})
}

func (h *Hub) relayCursor(client *Client, env Envelope) {
	var payload CursorPayload
	if err := decode(env, &payload); err != nil {
		client.sendError("bad_payload", "cursor-move payload is invalid")
		return
	}
	if client.projectID == "" {
		client.sendError("no_project", "join a project before sending presence")
		return
	}
	payload.ProjectID = client.projectID
	payload.UserID = client.userID
	h.broadcast(client.projectID, client, EventUserCursorMove, payload)
}

func (h *Hub) relaySelection(client *Client, env Envelope) {
	var payload SelectionPayload
	if err := decode(env, &payload); err != nil {
		client.sendError("bad_payload", "text-select payload is invalid")
		return
	}
	if client.projectID == "" {
		client.sendError("no_project", "join a project before sending presence")
		return
	}
	payload.ProjectID = client.projectID
	payload.UserID = client.userID
	h.broadcast(client.projectID, client, EventUserTextSelect, payload)
}

func (h *Hub) handleAutosaveStatus(client *Client) {
	if client.projectID == "" {
		client.sendError("no_project", "join a project before requesting status")
		return
	}
	payload := AutosaveStatusPayload{ProjectID: client.projectID}
	state, err := h.autosaves.Get(context.Background(), client.projectID, client.userID)
	switch {
	case err == nil:
		payload.HasAutosave = true
		payload.Version = state.Version
		t := state.LastSavedAt
		payload.LastSavedAt = &t
	case errors.Is(err, autosave.ErrNotFound):
		// No state yet; HasAutosave stays false.
	default:
		client.sendError("status_failed", "autosave status unavailable")
		return
	}
	h.send(client, EventAutosaveStatusUpdate, payload)
}

// send queues one envelope for a single client, disconnecting it if its
// queue is full.
func (h *Hub) send(client *Client, event string, data any) {
	env, err := NewEnvelope(event, data)
	if err != nil {
		h.logger.Error("encode outbound event failed", zap.String("event", event), zap.Error(err))
		return
	}
	if !client.enqueue(env) {
		h.logger.Warn("dropping slow websocket client", zap.String("user_id", client.userID))
		h.removeClient(client)
	}
}

// broadcast queues an envelope for everyone in the room except the sender.
func (h *Hub) broadcast(projectID string, sender *Client, event string, data any) {
	env, err := NewEnvelope(event, data)
	if err != nil {
		h.logger.Error("encode broadcast event failed", zap.String("event", event), zap.Error(err))
		return
	}
	var slow []*Client
	for peer := range h.rooms[projectID] {
		if peer == sender {
			continue
		}
		if !peer.enqueue(env) {
			slow = append(slow, peer)
		}
	}
	for _, peer := range slow {
		h.logger.Warn("dropping slow websocket client", zap.String("user_id", peer.userID))
		h.removeClient(peer)
	}
}

func decode(env Envelope, out any) error {
	if len(env.Data) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(env.Data, out)
}
