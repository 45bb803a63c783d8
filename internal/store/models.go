package store

import "time"

// User is a registered account. Uniqueness of username and email is
// enforced by the database, not in application code.
type User struct {
	ID           int64  `gorm:"primaryKey"`
	Username     string `gorm:"size:50;uniqueIndex;not null"`
	Email        string `gorm:"size:255;uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

// TableName returns the table name for the User model.
func (User) TableName() string {
	return "users"
}

// GlobalMessage is one message in the shared room. The sender's name is
// denormalized so history survives account renames.
type GlobalMessage struct {
	ID         int64  `gorm:"primaryKey"`
	SenderID   int64  `gorm:"index;not null"`
	SenderName string `gorm:"size:50;not null"`
	Content    string `gorm:"column:message_content;not null"`
	CreatedAt  time.Time `gorm:"index"`
}

// TableName returns the table name for the GlobalMessage model.
func (GlobalMessage) TableName() string {
	return "global_messages"
}

// PrivateMessage is a direct message between two users. Read transitions
// false to true exactly once, via MarkRead.
type PrivateMessage struct {
	ID         int64  `gorm:"primaryKey"`
	SenderID   int64  `gorm:"index;not null"`
	ReceiverID int64  `gorm:"index;not null"`
	Content    string `gorm:"column:message_content;not null"`
	Read       bool   `gorm:"column:is_read;not null;default:false"`
	CreatedAt  time.Time `gorm:"index"`
}

// TableName returns the table name for the PrivateMessage model.
func (PrivateMessage) TableName() string {
	return "private_messages"
}

// PrivateHistoryEntry is one row of a private conversation, with the
// sender's current username joined in.
type PrivateHistoryEntry struct {
	SenderID   int64     `gorm:"column:sender_id"`
	SenderName string    `gorm:"column:sender_name"`
	Content    string    `gorm:"column:message_content"`
	Read       bool      `gorm:"column:is_read"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}
