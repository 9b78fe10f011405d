// Package uistate keeps ephemeral UI attachments keyed by id. Attachments
// live apart from conversation messages: one may exist without the other.
package uistate

import "maps"

// Wire type tags of custom UI events.
const (
	TypeUI       = "ui"
	TypeRemoveUI = "remove-ui"
)

// UIMessage is a UI attachment, usually a widget rendered next to a message.
type UIMessage struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Props    map[string]any `json:"props,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MessageID returns the conversation message the attachment belongs to, if any.
func (u UIMessage) MessageID() string {
	id, _ := u.Metadata["message_id"].(string)
	return id
}

// Op is a change to the attachment map: Upsert or Remove.
type Op interface {
	key() string
}

// Upsert creates or replaces the attachment with the same id.
type Upsert struct {
	Message UIMessage
}

func (o Upsert) key() string { return o.Message.ID }

// Remove deletes the attachment with ID.
type Remove struct {
	ID string
}

func (o Remove) key() string { return o.ID }

// Reduce applies op to prior and returns the resulting map. prior is never
// modified. Removing an unknown id and nil ops leave the map as it was.
func Reduce(prior map[string]UIMessage, op Op) map[string]UIMessage {
	next := maps.Clone(prior)
	if next == nil {
		next = make(map[string]UIMessage)
	}
	switch o := op.(type) {
	case Upsert:
		if o.Message.ID == "" {
			return next
		}
		next[o.Message.ID] = o.Message
	case Remove:
		delete(next, o.ID)
	}
	return next
}
