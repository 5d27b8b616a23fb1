package ws

import (
	"errors"
	"fmt"

	"github.com/cwrk-planet/chat-relay/internal/relay"

	"github.com/valyala/fastjson"
)

// Event names of the {"event": ..., "data": ...} envelope.
const (
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
)

var (
	ErrMalformedFrame = errors.New("ws: malformed frame")
	ErrUnknownEvent   = errors.New("ws: unknown event")
)

// Envelope is the outbound frame.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// frame is a decoded inbound envelope.
type frame struct {
	event  string
	roomID string
	send   relay.SendRequest
}

var parsers fastjson.ParserPool

func parseFrame(data []byte) (frame, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return frame{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if v.Type() != fastjson.TypeObject {
		return frame{}, fmt.Errorf("%w: envelope is %s", ErrMalformedFrame, v.Type())
	}

	f := frame{event: string(v.GetStringBytes("event"))}
	payload := v.Get("data")

	switch f.event {
	case EventJoinRoom, EventLeaveRoom:
		roomID, err := roomIDOf(payload)
		if err != nil {
			return frame{}, err
		}
		f.roomID = roomID
	case EventSendMessage:
		if payload == nil || payload.Type() != fastjson.TypeObject {
			return frame{}, fmt.Errorf("%w: send_message data must be an object", ErrMalformedFrame)
		}
		f.send = relay.SendRequest{
			RoomID:                str(payload, "roomId"),
			UserID:                str(payload, "userId"),
			Username:              str(payload, "username"),
			Message:               str(payload, "message"),
			ReplyToMessageID:      str(payload, "replyToMessageId"),
			ReplyToMessageContent: str(payload, "replyToMessageContent"),
			ReplyToUsername:       str(payload, "replyToUsername"),
		}
	case "":
		return frame{}, fmt.Errorf("%w: missing event", ErrMalformedFrame)
	default:
		return frame{}, fmt.Errorf("%w: %q", ErrUnknownEvent, f.event)
	}
	return f, nil
}

// roomIDOf accepts either a bare string or {"roomId": "..."}.
func roomIDOf(v *fastjson.Value) (string, error) {
	if v == nil {
		return "", fmt.Errorf("%w: missing room id", ErrMalformedFrame)
	}
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes()), nil
	case fastjson.TypeObject:
		return str(v, "roomId"), nil
	default:
		return "", fmt.Errorf("%w: room id is %s", ErrMalformedFrame, v.Type())
	}
}

// str returns the string field key, or "" when it is absent, null or not a string.
func str(v *fastjson.Value, key string) string {
	return string(v.GetStringBytes(key))
}
