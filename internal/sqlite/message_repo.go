// Package sqlite is an embedded message store for local runs and tests.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cwrk-planet/chat-relay/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type messageRow struct {
	ID                    string    `gorm:"column:id;primaryKey"`
	RoomID                string    `gorm:"column:room_id;not null;index:idx_messages_room_created,priority:1"`
	UserID                string    `gorm:"column:user_id;not null"`
	Username              string    `gorm:"column:username;not null"`
	Message               string    `gorm:"column:message;not null"`
	CreatedAt             time.Time `gorm:"column:created_at;not null;index:idx_messages_room_created,priority:2"`
	ReplyToMessageID      *string   `gorm:"column:reply_to_message_id"`
	ReplyToMessageContent *string   `gorm:"column:reply_to_message_content"`
	ReplyToUsername       *string   `gorm:"column:reply_to_username"`
}

func (messageRow) TableName() string { return "messages" }

func (r messageRow) toDomain() domain.Message {
	return domain.Message{
		ID:        r.ID,
		RoomID:    r.RoomID,
		UserID:    r.UserID,
		Username:  r.Username,
		Body:      r.Message,
		CreatedAt: r.CreatedAt,
		Reply:     domain.ReplyFromColumns(r.ReplyToMessageID, r.ReplyToMessageContent, r.ReplyToUsername),
	}
}

type MessageRepository struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path and migrates the messages table.
// ":memory:" gives a private in-memory database.
func Open(path string) (*MessageRepository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", domain.ErrConnectivity, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConnectivity, err)
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&messageRow{}); err != nil {
		return nil, fmt.Errorf("migrate messages: %w", err)
	}
	return &MessageRepository{db: db}, nil
}

func (r *MessageRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnectivity, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnectivity, err)
	}
	return nil
}

func (r *MessageRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *MessageRepository) Insert(ctx context.Context, m domain.Message) (*domain.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	replyID, replyContent, replyUser := m.Reply.Columns()

	row := messageRow{
		ID:                    m.ID,
		RoomID:                m.RoomID,
		UserID:                m.UserID,
		Username:              m.Username,
		Message:               m.Body,
		CreatedAt:             m.CreatedAt.UTC(), // zero is filled from NowFunc
		ReplyToMessageID:      replyID,
		ReplyToMessageContent: replyContent,
		ReplyToUsername:       replyUser,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: insert message: duplicate id %s: %w", domain.ErrPersistence, m.ID, err)
		}
		return nil, fmt.Errorf("%w: insert message: %w", domain.ErrPersistence, err)
	}

	out := row.toDomain()
	return &out, nil
}

func (r *MessageRepository) Query(ctx context.Context, roomID string) ([]domain.Message, error) {
	var rows []messageRow
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: query messages: %w", domain.ErrPersistence, err)
	}

	out := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}
