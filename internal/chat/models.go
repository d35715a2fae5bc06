package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation exists before any message referencing it; UpdatedAt is bumped
// on every new message so recency-ordered listings stay fresh.
type Conversation struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

// Message ids are ULIDs, so id order matches creation order within a
// conversation even when timestamps collide.
type Message struct {
	ID             string    `gorm:"primaryKey;size:26" json:"id"`
	ConversationID string    `gorm:"size:36;index;not null" json:"conversation_id"`
	Role           string    `gorm:"size:16;not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type ChatResponse struct {
	ConversationID string   `json:"conversation_id"`
	Message        *Message `json:"message"`
}

// ChatContext is the transient output of Prepare: the resolved conversation,
// the prior history (excluding the just-saved user message), and the raw
// utterance. It is owned by the single request or connection handling it.
type ChatContext struct {
	ConversationID string
	History        []Message
	UserMessage    string
}
