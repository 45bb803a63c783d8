package chat

import "encoding/json"

// Inbound event names.
const (
	EventChatMessage           = "chat-message"
	EventPrivateMessage        = "private-message"
	EventRequestGlobalHistory  = "request-global-history"
	EventRequestPrivateHistory = "request-private-history"
	EventMarkPrivateRead       = "mark-private-messages-read"
)

// Outbound event names. EventChatMessage is used in both directions.
const (
	EventChatHistory            = "chat-history"
	EventPrivateMessageReceived = "private-message-received"
	EventPrivateHistoryLoaded   = "private-history-loaded"
	EventOnlineUsersList        = "online-users-list"
	EventUserJoined             = "user-joined"
	EventUserLeft               = "user-left"
	EventInitialUnreadCounts    = "initial-unread-counts"
	EventTotalUnreadCount       = "total-unread-count"
	EventSystemMessage          = "system-message"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Identity is an authenticated user as seen by the hub.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// ChatMessagePayload is the inbound chat-message payload.
type ChatMessagePayload struct {
	Message string `json:"message"`
}

// PrivateMessagePayload is the inbound private-message payload.
type PrivateMessagePayload struct {
	RecipientID int64  `json:"recipientId"`
	Message     string `json:"message"`
}

// PrivateHistoryPayload is the inbound request-private-history payload.
type PrivateHistoryPayload struct {
	UserID int64 `json:"userId"`
}

// MarkReadPayload is the inbound mark-private-messages-read payload.
type MarkReadPayload struct {
	SenderID int64 `json:"senderId"`
}

// ChatMessageEvent is one outbound global message, used for both live
// delivery and history entries.
type ChatMessageEvent struct {
	User      string `json:"user"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// PrivateMessageEvent is an outbound private-message-received payload. The
// same shape goes to sender and recipient connections with IsMine flipped.
type PrivateMessageEvent struct {
	SenderID         int64  `json:"senderId"`
	SenderUsername   string `json:"senderUsername"`
	ReceiverID       int64  `json:"receiverId"`
	ReceiverUsername string `json:"receiverUsername"`
	Content          string `json:"message_content"`
	Timestamp        string `json:"timestamp"`
	IsMine           bool   `json:"is_my_message"`
}

// PrivateHistoryEvent is one entry of a private-history-loaded payload.
type PrivateHistoryEvent struct {
	Username  string `json:"username"`
	Content   string `json:"message_content"`
	Timestamp string `json:"timestamp"`
	IsMine    bool   `json:"is_my_message"`
}

func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
