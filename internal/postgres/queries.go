package postgres

const (
	schemaSQL = `
CREATE TABLE IF NOT EXISTS messages (
	id                       uuid PRIMARY KEY,
	room_id                  text NOT NULL,
	user_id                  text NOT NULL,
	username                 text NOT NULL,
	message                  text NOT NULL,
	created_at               timestamptz NOT NULL DEFAULT now(),
	reply_to_message_id      text,
	reply_to_message_content text,
	reply_to_username        text,
	CONSTRAINT messages_reply_triple CHECK (
		(reply_to_message_id IS NULL) = (reply_to_message_content IS NULL)
		AND (reply_to_message_id IS NULL) = (reply_to_username IS NULL)
	)
);
CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room_id, created_at, id);
`

	insertMessageSQL = `
INSERT INTO messages (
	id, room_id, user_id, username, message, created_at,
	reply_to_message_id, reply_to_message_content, reply_to_username
)
VALUES ($1::text::uuid, $2, $3, $4, $5, COALESCE($6::timestamptz, now()), $7, $8, $9)
RETURNING id::text, room_id, user_id, username, message, created_at,
	reply_to_message_id, reply_to_message_content, reply_to_username
`

	selectRoomMessagesSQL = `
SELECT id::text, room_id, user_id, username, message, created_at,
	reply_to_message_id, reply_to_message_content, reply_to_username
FROM messages
WHERE room_id = $1
ORDER BY created_at ASC, id ASC
`

	probeMessagesSQL = `SELECT id::text FROM messages LIMIT 1`
)
