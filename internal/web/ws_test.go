package web_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaychat/relay/internal/chat"
)

// wsClient wraps a dialed connection and records every received envelope so
// tests can assert on events in arrival order.
type wsClient struct {
	conn   *websocket.Conn
	events []chat.Envelope
	cursor map[string]int
}

func dialWS(t *testing.T, server *httptest.Server, client *http.Client) *wsClient {
	t.Helper()

	base, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("Failed to parse server URL: %v", err)
	}
	header := http.Header{"Origin": []string{server.URL}}
	for _, cookie := range client.Jar.Cookies(base) {
		header.Add("Cookie", cookie.String())
	}

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		status := 0
		if res != nil {
			status = res.StatusCode
		}
		t.Fatalf("Failed to dial %s (status %d): %v", wsURL, status, err)
	}
	t.Cleanup(func() { conn.Close() })

	return &wsClient{conn: conn, cursor: make(map[string]int)}
}

// expect reads until an envelope with the given event name satisfies pred,
// consuming events in order. Each event name has its own cursor so repeated
// expects see successive occurrences.
func (c *wsClient) expect(t *testing.T, event string, pred func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)

	for {
		for ; c.cursor[event] < len(c.events); c.cursor[event]++ {
			env := c.events[c.cursor[event]]
			if env.Event != event {
				continue
			}
			if pred == nil || pred(env.Data) {
				c.cursor[event]++
				return env.Data
			}
		}

		if err := c.conn.SetReadDeadline(deadline); err != nil {
			t.Fatalf("Failed to set read deadline: %v", err)
		}
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			t.Fatalf("Timed out waiting for %s event: %v", event, err)
		}
		var env chat.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("Failed to decode frame %q: %v", frame, err)
		}
		c.events = append(c.events, env)
	}
}

func (c *wsClient) send(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	if err := c.conn.WriteJSON(chat.Envelope{Event: event, Data: raw}); err != nil {
		t.Fatalf("Failed to send %s event: %v", event, err)
	}
}

func totalEquals(want int64) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var total int64
		return json.Unmarshal(raw, &total) == nil && total == want
	}
}

func TestPrivateMessagingEndToEnd(t *testing.T) {
	server := newTestServer(t)

	aliceHTTP := newClientWithJar(t)
	alice := signup(t, aliceHTTP, server.URL, "alice", "alice@example.com", "correct-horse")
	bobHTTP := newClientWithJar(t)
	bob := signup(t, bobHTTP, server.URL, "bob", "bob@example.com", "correct-horse")

	aliceWS := dialWS(t, server, aliceHTTP)
	aliceWS.expect(t, chat.EventOnlineUsersList, nil)
	aliceWS.expect(t, chat.EventTotalUnreadCount, totalEquals(0))

	bobWS := dialWS(t, server, bobHTTP)
	bobWS.expect(t, chat.EventOnlineUsersList, nil)

	// Bob's first connection announces him to alice.
	raw := aliceWS.expect(t, chat.EventUserJoined, nil)
	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil || joined != "bob" {
		t.Fatalf("Expected user-joined bob, got %s (%v)", raw, err)
	}

	// Bob sends alice a private message.
	bobWS.send(t, chat.EventPrivateMessage, chat.PrivateMessagePayload{
		RecipientID: alice.Data.UserID,
		Message:     "hi",
	})

	var received chat.PrivateMessageEvent
	raw = aliceWS.expect(t, chat.EventPrivateMessageReceived, nil)
	if err := json.Unmarshal(raw, &received); err != nil {
		t.Fatalf("Failed to decode private message: %v", err)
	}
	if received.SenderID != bob.Data.UserID || received.ReceiverID != alice.Data.UserID {
		t.Errorf("Unexpected sender/receiver: %+v", received)
	}
	if received.Content != "hi" || received.IsMine {
		t.Errorf("Unexpected payload: %+v", received)
	}

	// The sender's copy has is_my_message flipped.
	var echo chat.PrivateMessageEvent
	raw = bobWS.expect(t, chat.EventPrivateMessageReceived, nil)
	if err := json.Unmarshal(raw, &echo); err != nil {
		t.Fatalf("Failed to decode sender echo: %v", err)
	}
	if !echo.IsMine || echo.Content != "hi" {
		t.Errorf("Unexpected sender echo: %+v", echo)
	}

	// Alice's unread total went to one.
	aliceWS.expect(t, chat.EventTotalUnreadCount, totalEquals(1))

	// Opening the conversation loads history and clears the unread count.
	aliceWS.send(t, chat.EventRequestPrivateHistory, chat.PrivateHistoryPayload{UserID: bob.Data.UserID})

	var history []chat.PrivateHistoryEvent
	raw = aliceWS.expect(t, chat.EventPrivateHistoryLoaded, nil)
	if err := json.Unmarshal(raw, &history); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if len(history) != 1 || history[0].Content != "hi" || history[0].IsMine {
		t.Fatalf("Unexpected history: %+v", history)
	}
	if history[0].Username != "bob" {
		t.Errorf("Expected sender bob, got %q", history[0].Username)
	}

	aliceWS.expect(t, chat.EventTotalUnreadCount, totalEquals(0))
}

func TestGlobalMessagingEndToEnd(t *testing.T) {
	server := newTestServer(t)

	aliceHTTP := newClientWithJar(t)
	signup(t, aliceHTTP, server.URL, "alice", "alice@example.com", "correct-horse")
	bobHTTP := newClientWithJar(t)
	signup(t, bobHTTP, server.URL, "bob", "bob@example.com", "correct-horse")

	aliceWS := dialWS(t, server, aliceHTTP)
	bobWS := dialWS(t, server, bobHTTP)
	aliceWS.expect(t, chat.EventUserJoined, nil)

	aliceWS.send(t, chat.EventChatMessage, chat.ChatMessagePayload{Message: "hello everyone"})

	var msg chat.ChatMessageEvent
	raw := bobWS.expect(t, chat.EventChatMessage, nil)
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("Failed to decode chat message: %v", err)
	}
	if msg.User != "alice" || msg.Message != "hello everyone" {
		t.Errorf("Unexpected chat message: %+v", msg)
	}

	// History replays the persisted message in chronological order.
	bobWS.send(t, chat.EventRequestGlobalHistory, struct{}{})

	var history []chat.ChatMessageEvent
	raw = bobWS.expect(t, chat.EventChatHistory, nil)
	if err := json.Unmarshal(raw, &history); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if len(history) != 1 || history[0].Message != "hello everyone" {
		t.Errorf("Unexpected history: %+v", history)
	}
}

func TestRosterListsUsersAlphabetically(t *testing.T) {
	server := newTestServer(t)

	bobHTTP := newClientWithJar(t)
	signup(t, bobHTTP, server.URL, "bob", "bob@example.com", "correct-horse")
	aliceHTTP := newClientWithJar(t)
	signup(t, aliceHTTP, server.URL, "alice", "alice@example.com", "correct-horse")

	bobWS := dialWS(t, server, bobHTTP)
	dialWS(t, server, aliceHTTP)

	raw := bobWS.expect(t, chat.EventOnlineUsersList, func(raw json.RawMessage) bool {
		var roster []chat.Identity
		return json.Unmarshal(raw, &roster) == nil && len(roster) == 2
	})
	var roster []chat.Identity
	if err := json.Unmarshal(raw, &roster); err != nil {
		t.Fatalf("Failed to decode roster: %v", err)
	}
	if roster[0].Username != "alice" || roster[1].Username != "bob" {
		t.Errorf("Expected alphabetical roster, got %+v", roster)
	}
}
