package domain

import "time"

// Message is immutable once persisted. ID and CreatedAt are assigned by the store.
type Message struct {
	ID        string    `db:"id"`
	RoomID    string    `db:"room_id"`
	UserID    string    `db:"user_id"`
	Username  string    `db:"username"`
	Body      string    `db:"message"`
	CreatedAt time.Time `db:"created_at"`
	Reply     *Reply
}

// Reply is a snapshot of the replied-to message taken at send time.
// It is never re-derived from the referenced row.
type Reply struct {
	MessageID string `db:"reply_to_message_id"`
	Content   string `db:"reply_to_message_content"`
	Username  string `db:"reply_to_username"`
}

// Columns flattens the reply into three nullable values.
func (r *Reply) Columns() (id, content, username *string) {
	if r == nil {
		return nil, nil, nil
	}
	return &r.MessageID, &r.Content, &r.Username
}

// WireMessage is the shape sent as receive_message and returned by history.
type WireMessage struct {
	ID                    string    `json:"id"`
	RoomID                string    `json:"roomId"`
	UserID                string    `json:"userId"`
	Username              string    `json:"username"`
	Message               string    `json:"message"`
	Timestamp             time.Time `json:"timestamp"`
	ReplyToMessageID      *string   `json:"replyToMessageId"`
	ReplyToMessageContent *string   `json:"replyToMessageContent"`
	ReplyToUsername       *string   `json:"replyToUsername"`
}

func NewWireMessage(m Message) WireMessage {
	id, content, username := m.Reply.Columns()
	return WireMessage{
		ID:                    m.ID,
		RoomID:                m.RoomID,
		UserID:                m.UserID,
		Username:              m.Username,
		Message:               m.Body,
		Timestamp:             m.CreatedAt,
		ReplyToMessageID:      id,
		ReplyToMessageContent: content,
		ReplyToUsername:       username,
	}
}
