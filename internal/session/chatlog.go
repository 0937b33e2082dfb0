package session

import "livecollab/internal/models"

// ChatLog is a fixed capacity ring of chat messages. Appending to a full log
// overwrites the oldest entry.
type ChatLog struct {
	buf   []models.ChatMessage
	start int
	size  int
}

func NewChatLog(capacity int) *ChatLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &ChatLog{buf: make([]models.ChatMessage, capacity)}
}

func (l *ChatLog) Append(msg models.ChatMessage) {
	if l.size < len(l.buf) {
		l.buf[(l.start+l.size)%len(l.buf)] = msg
		l.size++
		return
	}
	l.buf[l.start] = msg
	l.start = (l.start + 1) % len(l.buf)
}

// Messages returns the retained messages, oldest first.
func (l *ChatLog) Messages() []models.ChatMessage {
	out := make([]models.ChatMessage, 0, l.size)
	for i := 0; i < l.size; i++ {
		out = append(out, l.buf[(l.start+i)%len(l.buf)])
	}
	return out
}

func (l *ChatLog) Len() int { return l.size }

func (l *ChatLog) Cap() int { return len(l.buf) }
