package conversation

// AppendDelta merges a streamed fragment into the message with id, creating
// it at the tail when the id is new. Empty ids and empty fragments are
// ignored. Re-delivered fragments are applied again. It reports whether the
// store changed.
func (s *Store) AppendDelta(id string, fragment Content) bool {
	return s.AppendDeltaAs(id, "", fragment)
}

// AppendDeltaAs is AppendDelta for a fragment that names its message role.
// The role is recorded when the message has none yet.
func (s *Store) AppendDeltaAs(id, role string, fragment Content) bool {
	if id == "" || fragment.IsEmpty() {
		return false
	}
	i, ok := s.index[id]
	if !ok {
		s.push(Message{ID: id, Role: role, Content: fragment.clone()})
		return true
	}
	s.messages[i].Content = s.messages[i].Content.Append(fragment)
	s.adoptRole(i, role)
	return true
}

// adoptRole fills in a missing role. Content is never touched.
func (s *Store) adoptRole(i int, role string) {
	if role != "" && s.messages[i].Role == "" {
		s.messages[i].Role = role
	}
}

// MergeSnapshot appends the messages of a phase-boundary snapshot whose ids
// are not yet present, keeping their relative order. Present ids keep their
// content even when the snapshot carries a different one; only a missing role
// is filled in. It returns the number of messages appended.
func (s *Store) MergeSnapshot(msgs []Message) int {
	return s.appendMissing(msgs)
}

// MergeAuthoritative applies the authoritative message list with the same
// policy as MergeSnapshot: it only ever adds.
func (s *Store) MergeAuthoritative(msgs []Message) int {
	return s.appendMissing(msgs)
}

func (s *Store) appendMissing(msgs []Message) int {
	added := 0
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if i, ok := s.index[m.ID]; ok {
			s.adoptRole(i, m.Role)
			continue
		}
		s.push(m.Clone())
		added++
	}
	return added
}
