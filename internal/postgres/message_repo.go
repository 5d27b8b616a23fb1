package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cwrk-planet/chat-relay/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Migrate creates the messages table if it does not exist yet.
func (r *MessageRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate messages: %w", err)
	}
	return nil
}

// Ping checks that the messages table is reachable.
func (r *MessageRepository) Ping(ctx context.Context) error {
	var id string
	err := r.db.QueryRow(ctx, probeMessagesSQL).Scan(&id)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", domain.ErrConnectivity, err)
	}
	return nil
}

// Insert persists one message. An empty ID is generated here, a zero CreatedAt
// is taken from the database clock.
func (r *MessageRepository) Insert(ctx context.Context, m domain.Message) (*domain.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	var createdAt any
	if !m.CreatedAt.IsZero() {
		createdAt = m.CreatedAt
	}
	replyID, replyContent, replyUser := m.Reply.Columns()

	row := r.db.QueryRow(ctx, insertMessageSQL,
		m.ID, m.RoomID, m.UserID, m.Username, m.Body, createdAt,
		replyID, replyContent, replyUser,
	)

	out, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			slog.Warn("postgres.Insert: no row returned", "room", m.RoomID, "id", m.ID)
			return nil, nil
		}
		return nil, mapPgError("insert message", err)
	}
	return out, nil
}

// Query returns every message of the room, oldest first.
func (r *MessageRepository) Query(ctx context.Context, roomID string) ([]domain.Message, error) {
	rows, err := r.db.Query(ctx, selectRoomMessagesSQL, roomID)
	if err != nil {
		return nil, mapPgError("query messages", err)
	}
	defer rows.Close()

	out := make([]domain.Message, 0, 32)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, mapPgError("scan message", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError("query messages", err)
	}
	return out, nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var (
		m                                domain.Message
		replyID, replyContent, replyUser *string
	)
	if err := row.Scan(
		&m.ID,
		&m.RoomID,
		&m.UserID,
		&m.Username,
		&m.Body,
		&m.CreatedAt,
		&replyID,
		&replyContent,
		&replyUser,
	); err != nil {
		return nil, err
	}
	m.Reply = domain.ReplyFromColumns(replyID, replyContent, replyUser)
	return &m, nil
}

func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgerrcode.IsIntegrityConstraintViolation(pgErr.Code):
			return fmt.Errorf("%w: %s: constraint %q violated: %w", domain.ErrPersistence, op, pgErr.ConstraintName, err)
		case pgerrcode.IsConnectionException(pgErr.Code):
			return fmt.Errorf("%w: %s: connection: %w", domain.ErrPersistence, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}
