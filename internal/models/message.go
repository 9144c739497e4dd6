package models

import (
	"time"
)

// Message is one chat message. Messages are append-only and carry the
// sending client's wall-clock time, so ordering across clients is only as
// good as their clocks.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}
