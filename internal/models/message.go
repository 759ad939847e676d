package models

import "time"

// Message is one entry in a private chat. Messages are immutable once stored.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	Emotion   string    `json:"emotion"`
	Timestamp time.Time `json:"timestamp"`
}
