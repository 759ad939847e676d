package models

import "time"

// Conversation is a two-party private chat.
type Conversation struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// Includes reports whether userID takes part in the conversation.
func (c *Conversation) Includes(userID string) bool {
	return c != nil && userID != "" && (c.Participants[0] == userID || c.Participants[1] == userID)
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if c == nil {
		return ""
	}
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}
