// Package conversation holds the reconciled, ordered list of conversation
// messages and the merge rules that feed it.
//
// A Store is written by three independent sources: token deltas, phase
// boundary snapshots and the authoritative message list. Whatever source
// writes an id first owns its position and its content for the rest of the
// session. A Store is not safe for concurrent use; callers serialize writes.
package conversation

// Store is an ordered, id-deduplicated list of messages.
type Store struct {
	messages []Message
	index    map[string]int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Len returns the number of messages.
func (s *Store) Len() int { return len(s.messages) }

// Has reports whether a message with id is present.
func (s *Store) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Get returns a copy of the message with id.
func (s *Store) Get(id string) (Message, bool) {
	i, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return s.messages[i].Clone(), true
}

// Messages returns a deep copy of the messages in first-observation order.
func (s *Store) Messages() []Message {
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Reset drops every message.
func (s *Store) Reset() {
	s.messages = nil
	s.index = make(map[string]int)
}

func (s *Store) push(m Message) {
	s.index[m.ID] = len(s.messages)
	s.messages = append(s.messages, m)
}
