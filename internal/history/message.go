package history

import "time"

// Thread summarises one persisted conversation thread.
type Thread struct {
	ID           string    `json:"thread_id"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// record is one stored message row.
type record struct {
	ThreadID  string
	MessageID string
	Position  int
	Payload   []byte
	CreatedAt time.Time
}
