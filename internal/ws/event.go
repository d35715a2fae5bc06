package ws

// Event is the closed set of frames sent to the client, one JSON object per
// websocket message, discriminated by Type.
type Event struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
	FullContent    string `json:"full_content,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	Message        string `json:"message,omitempty"`
}

const (
	EventStreamStart = "stream_start"
	EventStreamChunk = "stream_chunk"
	EventStreamEnd   = "stream_end"
	EventError       = "error"
)

func startEvent(conversationID string) Event {
	return Event{Type: EventStreamStart, ConversationID: conversationID}
}

func chunkEvent(content string) Event {
	return Event{Type: EventStreamChunk, Content: content}
}

func endEvent(fullContent, messageID string) Event {
	return Event{Type: EventStreamEnd, FullContent: fullContent, MessageID: messageID}
}

func errorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}
