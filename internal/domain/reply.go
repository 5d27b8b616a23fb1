package domain

import "strings"

// NormalizeReply turns the three optional reply fields into a reply snapshot.
// If any of them is blank the whole reply is absent; otherwise the values are
// kept exactly as sent. The referenced message is trusted as given: nothing
// here checks that it exists.
func NormalizeReply(messageID, content, username string) *Reply {
	if IsBlank(messageID) || IsBlank(content) || IsBlank(username) {
		return nil
	}
	return &Reply{
		MessageID: messageID,
		Content:   content,
		Username:  username,
	}
}

// ReplyFromColumns builds a reply from nullable store columns.
func ReplyFromColumns(messageID, content, username *string) *Reply {
	return NormalizeReply(deref(messageID), deref(content), deref(username))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// IsBlank reports whether s is empty after trimming whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
