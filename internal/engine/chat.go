package engine

import (
	"time"

	"codesession/internal/util"
)

// chatChannel is the session-scoped, append-only, totally ordered message
// log. Only ever touched on the session's serialized path.
type chatChannel struct {
	messages []ChatMessage
	nextSeq  int64
}

func newChatChannel() *chatChannel {
	return &chatChannel{nextSeq: 1}
}

func (c *chatChannel) post(authorID, content string, msgType MessageType, now time.Time) ChatMessage {
	msg := ChatMessage{
		ID:        util.NewID("msg"),
		Seq:       c.nextSeq,
		AuthorID:  authorID,
		Content:   content,
		Type:      msgType,
		Timestamp: now,
	}
	c.nextSeq++
	c.messages = append(c.messages, msg)
	return msg
}

// tail returns a copy of the last n messages, oldest first.
func (c *chatChannel) tail(n int) []ChatMessage {
	if n <= 0 || len(c.messages) == 0 {
		return nil
	}
	start := len(c.messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]ChatMessage, len(c.messages)-start)
	copy(out, c.messages[start:])
	return out
}
