package chat

import (
	"fmt"
	"log"
	"strings"
	"time"
)

// historyLimit caps both global and private history fetches.
const historyLimit = 50

func wireTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// handleGlobalMessage validates, persists, and broadcasts one message to the
// shared room. The broadcast happens only after the store write succeeds.
func (h *Hub) handleGlobalMessage(c *Client, content string) {
	if strings.TrimSpace(content) == "" {
		c.sendSystem("Message cannot be empty.")
		return
	}

	msg, err := h.store.SaveGlobalMessage(h.ctx, c.identity.ID, c.identity.Username, content)
	if err != nil {
		log.Printf("Error saving global message from %s: %v", c.identity.Username, err)
		c.sendSystem("Failed to send message. Please try again.")
		return
	}

	metricMessagesTotal.WithLabelValues("global").Inc()
	h.Broadcast(EventChatMessage, ChatMessageEvent{
		User:      msg.SenderName,
		Message:   msg.Content,
		Timestamp: wireTime(msg.CreatedAt),
	})
}

// handleGlobalHistory emits the latest shared-room messages, oldest first,
// to the requesting connection only.
func (h *Hub) handleGlobalHistory(c *Client) {
	msgs, err := h.store.LatestGlobalMessages(h.ctx, historyLimit)
	if err != nil {
		log.Printf("Error fetching global chat history: %v", err)
		c.sendSystem("Failed to load global chat history.")
		return
	}

	// The store returns newest first; flip into chronological order.
	history := make([]ChatMessageEvent, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		history = append(history, ChatMessageEvent{
			User:      msgs[i].SenderName,
			Message:   msgs[i].Content,
			Timestamp: wireTime(msgs[i].CreatedAt),
		})
	}
	c.sendEvent(EventChatHistory, history)
}

// handlePrivateMessage validates, persists, and fans out a direct message:
// a sender-flagged copy to every connection of the sender, a recipient-
// flagged copy to every connection of the recipient, then fresh unread
// counts for the recipient.
func (h *Hub) handlePrivateMessage(c *Client, recipientID int64, content string) {
	if recipientID <= 0 || strings.TrimSpace(content) == "" {
		log.Printf("Invalid private message attempt from %s (recipient=%d)", c.identity.Username, recipientID)
		c.sendSystem("Failed to send private message: Invalid data.")
		return
	}
	if recipientID == c.identity.ID {
		c.sendSystem("You cannot send a private message to yourself.")
		return
	}

	msg, err := h.store.SavePrivateMessage(h.ctx, c.identity.ID, recipientID, content)
	if err != nil {
		log.Printf("Error saving private message from %s to %d: %v", c.identity.Username, recipientID, err)
		c.sendSystem("Failed to send private message.")
		return
	}

	recipientName, online := h.usernameFor(recipientID)
	if !online {
		recipientName = fmt.Sprintf("User %d", recipientID)
	}

	event := PrivateMessageEvent{
		SenderID:         c.identity.ID,
		SenderUsername:   c.identity.Username,
		ReceiverID:       recipientID,
		ReceiverUsername: recipientName,
		Content:          msg.Content,
		Timestamp:        wireTime(msg.CreatedAt),
	}

	metricMessagesTotal.WithLabelValues("private").Inc()

	mine := event
	mine.IsMine = true
	h.SendToUser(c.identity.ID, EventPrivateMessageReceived, mine)

	theirs := event
	theirs.IsMine = false
	h.SendToUser(recipientID, EventPrivateMessageReceived, theirs)

	h.pushUnreadCounts(recipientID)
	h.pushTotalUnread(recipientID)
}

// handlePrivateHistory emits the conversation with the counterpart to the
// requesting connection, marking the counterpart's messages read first and
// refreshing the reader's unread counts.
func (h *Hub) handlePrivateHistory(c *Client, otherID int64) {
	if otherID <= 0 {
		c.sendSystem("Failed to load private chat history: Invalid user.")
		return
	}
	if otherID == c.identity.ID {
		c.sendSystem("Cannot get private history with yourself.")
		return
	}

	rows, err := h.store.PrivateHistory(h.ctx, c.identity.ID, otherID, historyLimit)
	if err != nil {
		log.Printf("Error fetching private history for %d/%d: %v", c.identity.ID, otherID, err)
		c.sendSystem("Failed to load private chat history.")
		return
	}

	// Opening the conversation reads it.
	if _, err := h.store.MarkRead(h.ctx, c.identity.ID, otherID); err != nil {
		log.Printf("Error marking messages read for %d from %d: %v", c.identity.ID, otherID, err)
		c.sendSystem("Failed to load private chat history.")
		return
	}

	h.pushUnreadCounts(c.identity.ID)
	h.pushTotalUnread(c.identity.ID)

	history := make([]PrivateHistoryEvent, 0, len(rows))
	for _, row := range rows {
		history = append(history, PrivateHistoryEvent{
			Username:  row.SenderName,
			Content:   row.Content,
			Timestamp: wireTime(row.CreatedAt),
			IsMine:    row.SenderID == c.identity.ID,
		})
	}
	c.sendEvent(EventPrivateHistoryLoaded, history)
}

// handleMarkRead marks the counterpart's messages read and refreshes the
// reader's unread counts. Invalid requests are logged and ignored; the
// client gets no error event for these.
func (h *Hub) handleMarkRead(c *Client, senderID int64) {
	if senderID <= 0 {
		log.Printf("Invalid mark-as-read attempt from %s (sender=%d)", c.identity.Username, senderID)
		return
	}

	if _, err := h.store.MarkRead(h.ctx, c.identity.ID, senderID); err != nil {
		log.Printf("Error marking messages read for %d from %d: %v", c.identity.ID, senderID, err)
		return
	}

	h.pushUnreadCounts(c.identity.ID)
	h.pushTotalUnread(c.identity.ID)
}

// pushUnreadCounts delivers the per-sender unread map to every connection of
// the given user. Always a full recompute from the store; counts are never
// incremented in memory, so repeated pushes cannot drift.
func (h *Hub) pushUnreadCounts(userID int64) {
	counts, err := h.store.UnreadCountsBySender(h.ctx, userID)
	if err != nil {
		log.Printf("Error fetching unread counts for user %d: %v", userID, err)
		return
	}
	h.SendToUser(userID, EventInitialUnreadCounts, counts)
}

// pushTotalUnread delivers the total unread count to every connection of the
// given user.
func (h *Hub) pushTotalUnread(userID int64) {
	total, err := h.store.TotalUnreadCount(h.ctx, userID)
	if err != nil {
		log.Printf("Error fetching total unread count for user %d: %v", userID, err)
		return
	}
	h.SendToUser(userID, EventTotalUnreadCount, total)
}
