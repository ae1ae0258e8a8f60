package types

// Event represents a typed event emitted during ledger state transitions.
// Engines collect events in order; the surrounding host decides how they are
// published.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named attribute or the empty string.
func (e *Event) Attribute(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
