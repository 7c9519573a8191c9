package models

import "time"

const (
	SenderUser = "user"
	SenderAI   = "ai"
)

type ChatMessage struct {
	ID     string    `json:"id"`
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	Time   string    `json:"time"`
	SentAt time.Time `json:"sentAt"`
}
