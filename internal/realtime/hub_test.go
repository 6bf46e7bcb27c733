package realtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/schemasmith/schemasmith/internal/autosave"
	"github.com/schemasmith/schemasmith/internal/draft"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type seqTokens struct {
	n int
}

func (g *seqTokens) NewToken() (string, error) {
	g.n++
	return fmt.Sprintf("token-%03d", g.n), nil
}

type testHasher struct{}

func (testHasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

type fixture struct {
	autosaves autosave.Store
	drafts    *draft.Engine
	hub       *Hub
	server    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := systemClock{}
	autosaves := autosave.NewMemoryStore(clk, &seqTokens{})
	drafts := draft.NewEngine(draft.DefaultHistoryCap, clk, testHasher{})
	hub := NewHub(autosaves, drafts, clk, zap.NewNop())
	go hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		hub.ServeWS(w, r, userID)
	})
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})
	return &fixture{autosaves: autosaves, drafts: drafts, hub: hub, server: server}
}

func (f *fixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	env, err := NewEnvelope(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func readEvent(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func joinProject(t *testing.T, conn *websocket.Conn, projectID string) JoinedPayload {
	t.Helper()
	sendEvent(t, conn, EventJoinProject, JoinProjectPayload{ProjectID: projectID})
	env := readEvent(t, conn)
	require.Equal(t, EventJoinedProject, env.Event)
	var joined JoinedPayload
	require.NoError(t, json.Unmarshal(env.Data, &joined))
	return joined
}

func TestJoinAndAutosave(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn := f.dial(t, "user-1")

	joined := joinProject(t, conn, "proj-1")
	require.Equal(t, "proj-1", joined.ProjectID)
	require.Equal(t, []string{"user-1"}, joined.Collaborators)

	content := json.RawMessage(`{"schema":{"@type":"Article"}}`)
	sendEvent(t, conn, EventTriggerAutosave, TriggerAutosavePayload{Content: content})

	env := readEvent(t, conn)
	require.Equal(t, EventAutosaveComplete, env.Event)
	var saved AutosaveCompletePayload
	require.NoError(t, json.Unmarshal(env.Data, &saved))
	require.Equal(t, "proj-1", saved.ProjectID)
	require.Equal(t, 1, saved.Version)

	// The save also lands a snapshot in version history.
	snap, err := f.drafts.Current(context.Background(), "proj-1", "user-1")
	require.NoError(t, err)
	require.True(t, snap.Auto)
	require.JSONEq(t, string(content), string(snap.Content))
}

func TestAutosaveStatusRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn := f.dial(t, "user-1")
	joinProject(t, conn, "proj-1")

	sendEvent(t, conn, EventGetAutosaveStatus, struct{}{})
	env := readEvent(t, conn)
	require.Equal(t, EventAutosaveStatusUpdate, env.Event)
	var status AutosaveStatusPayload
	require.NoError(t, json.Unmarshal(env.Data, &status))
	require.False(t, status.HasAutosave)

	sendEvent(t, conn, EventTriggerAutosave, TriggerAutosavePayload{Content: json.RawMessage(`{}`)})
	env = readEvent(t, conn)
	require.Equal(t, EventAutosaveComplete, env.Event)

	sendEvent(t, conn, EventGetAutosaveStatus, struct{}{})
	env = readEvent(t, conn)
	require.Equal(t, EventAutosaveStatusUpdate, env.Event)
	require.NoError(t, json.Unmarshal(env.Data, &status))
	require.True(t, status.HasAutosave)
	require.Equal(t, 1, status.Version)
	require.NotNil(t, status.LastSavedAt)
}

func TestRoomBroadcasts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice := f.dial(t, "user-1")
	bob := f.dial(t, "user-1")

	joinProject(t, alice, "proj-1")
	joined := joinProject(t, bob, "proj-1")
	require.Len(t, joined.Collaborators, 2)

	// Presence relays reach the peer, not the sender.
	sendEvent(t, alice, EventCursorMove, CursorPayload{Line: 4, Column: 12})
	env := readEvent(t, bob)
	require.Equal(t, EventUserCursorMove, env.Event)
	var cursor CursorPayload
	require.NoError(t, json.Unmarshal(env.Data, &cursor))
	require.Equal(t, "proj-1", cursor.ProjectID)
	require.Equal(t, "user-1", cursor.UserID)
	require.Equal(t, 4, cursor.Line)

	sendEvent(t, alice, EventTextSelect, SelectionPayload{StartLine: 1, EndLine: 2})
	env = readEvent(t, bob)
	require.Equal(t, EventUserTextSelect, env.Event)

	// A save notifies the peer of the new version.
	sendEvent(t, alice, EventTriggerAutosave, TriggerAutosavePayload{Content: json.RawMessage(`{}`)})
	env = readEvent(t, alice)
	require.Equal(t, EventAutosaveComplete, env.Event)
	env = readEvent(t, bob)
	require.Equal(t, EventCollaboratorSaved, env.Event)
	var peerSave CollaboratorSavedPayload
	require.NoError(t, json.Unmarshal(env.Data, &peerSave))
	require.Equal(t, 1, peerSave.Version)
	require.Equal(t, "user-1", peerSave.UserID)

	// Disconnects are announced to the room.
	require.NoError(t, alice.Close())
	env = readEvent(t, bob)
	require.Equal(t, EventUserLeft, env.Event)
}

func TestJoinRejectsForeignProject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.drafts.AddVersion(context.Background(), "proj-1", "owner", json.RawMessage(`{}`), draft.Meta{})
	require.NoError(t, err)

	conn := f.dial(t, "intruder")
	sendEvent(t, conn, EventJoinProject, JoinProjectPayload{ProjectID: "proj-1"})

	env := readEvent(t, conn)
	require.Equal(t, EventError, env.Event)
	var fail ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &fail))
	require.Equal(t, "forbidden", fail.Code)
}

func TestUnknownAndMalformedMessages(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	conn := f.dial(t, "user-1")

	sendEvent(t, conn, "time-travel", struct{}{})
	env := readEvent(t, conn)
	require.Equal(t, EventError, env.Event)
	var fail ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &fail))
	require.Equal(t, "unknown_event", fail.Code)

	// A frame that is not JSON draws an error without closing the socket.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	env = readEvent(t, conn)
	require.Equal(t, EventError, env.Event)
	require.NoError(t, json.Unmarshal(env.Data, &fail))
	require.Equal(t, "bad_envelope", fail.Code)

	// Presence before joining a room is refused.
	sendEvent(t, conn, EventCursorMove, CursorPayload{Line: 1})
	env = readEvent(t, conn)
	require.Equal(t, EventError, env.Event)
	require.NoError(t, json.Unmarshal(env.Data, &fail))
	require.Equal(t, "no_project", fail.Code)
}
