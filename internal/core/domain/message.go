package domain

// MessageLevel is the severity of a flash message.
type MessageLevel string

const (
	MessageInfo    MessageLevel = "info"
	MessageSuccess MessageLevel = "success"
	MessageWarning MessageLevel = "warning"
	MessageError   MessageLevel = "error"
)

const (
	// TagPasswordExpire marks the expiration warning so it is queued once.
	TagPasswordExpire = "password_expire"
	// TagSafe marks a message whose text is trusted HTML.
	TagSafe = "safe"
)

// Message is a one-shot notice shown to the user on the next page view.
type Message struct {
	Level MessageLevel `json:"level"`
	Text  string       `json:"text"`
	Tags  []string     `json:"tags,omitempty"`
}

// HasTag reports whether the message carries the tag.
func (m Message) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
