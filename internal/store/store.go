// Package store is the persistence collaborator for the chat service. It
// wraps a GORM/SQLite database behind CRUD-shaped calls; all chat-domain
// invariants that belong to the database (unique usernames, read-flag
// transitions) are enforced here and nowhere else.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("store: duplicate entry")
)

// Store provides access to users, global messages, and private messages.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at path and runs migrations.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	logLevel := logger.Silent
	if os.Getenv("DB_DEBUG") == "true" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&User{}, &GlobalMessage{}, &PrivateMessage{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Ping verifies the underlying database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// CreateUser inserts a new account and returns it with its assigned ID.
func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string) (User, error) {
	user := User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, ErrDuplicate
		}
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// UserByUsername looks up an account by its unique username.
func (s *Store) UserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, "username = ?", username).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// SaveGlobalMessage persists a message to the shared room and returns the
// stored row, including its server-assigned timestamp.
func (s *Store) SaveGlobalMessage(ctx context.Context, senderID int64, senderName, content string) (GlobalMessage, error) {
	msg := GlobalMessage{
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return GlobalMessage{}, fmt.Errorf("failed to save global message: %w", err)
	}
	return msg, nil
}

// LatestGlobalMessages returns up to limit messages from the shared room,
// newest first. Callers that want chronological order must reverse.
func (s *Store) LatestGlobalMessages(ctx context.Context, limit int) ([]GlobalMessage, error) {
	var msgs []GlobalMessage
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch global messages: %w", err)
	}
	return msgs, nil
}

// SavePrivateMessage persists a direct message, unread, and returns the
// stored row.
func (s *Store) SavePrivateMessage(ctx context.Context, senderID, receiverID int64, content string) (PrivateMessage, error) {
	msg := PrivateMessage{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Read:       false,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return PrivateMessage{}, fmt.Errorf("failed to save private message: %w", err)
	}
	return msg, nil
}

// PrivateHistory returns up to limit messages exchanged between the two
// users, oldest first, with sender usernames resolved.
func (s *Store) PrivateHistory(ctx context.Context, userA, userB int64, limit int) ([]PrivateHistoryEntry, error) {
	var rows []PrivateHistoryEntry
	err := s.db.WithContext(ctx).
		Table("private_messages AS pm").
		Select("pm.sender_id, u.username AS sender_name, pm.message_content, pm.is_read, pm.created_at").
		Joins("JOIN users u ON u.id = pm.sender_id").
		Where("(pm.sender_id = ? AND pm.receiver_id = ?) OR (pm.sender_id = ? AND pm.receiver_id = ?)",
			userA, userB, userB, userA).
		Order("pm.created_at DESC, pm.id DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch private history: %w", err)
	}

	// The query takes the newest rows; flip them into chronological order.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// UnreadCountsBySender returns, for the given receiver, the number of unread
// private messages grouped by sender. Senders with no unread messages are
// absent from the map.
func (s *Store) UnreadCountsBySender(ctx context.Context, userID int64) (map[int64]int64, error) {
	var rows []struct {
		SenderID int64 `gorm:"column:sender_id"`
		Count    int64 `gorm:"column:unread_count"`
	}
	err := s.db.WithContext(ctx).
		Model(&PrivateMessage{}).
		Select("sender_id, COUNT(*) AS unread_count").
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Group("sender_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unread counts: %w", err)
	}

	counts := make(map[int64]int64, len(rows))
	for _, row := range rows {
		counts[row.SenderID] = row.Count
	}
	return counts, nil
}

// TotalUnreadCount returns the total number of unread private messages for
// the given receiver.
func (s *Store) TotalUnreadCount(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&PrivateMessage{}).
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// MarkRead flags every unread message from senderID to receiverID as read
// and returns the number of rows affected. Calling it again is a no-op.
func (s *Store) MarkRead(ctx context.Context, receiverID, senderID int64) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&PrivateMessage{}).
		Where("receiver_id = ? AND sender_id = ? AND is_read = ?", receiverID, senderID, false).
		Update("is_read", true)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", result.Error)
	}
	return result.RowsAffected, nil
}
