package model

// Contact is the canonical form of a contact source record.
type Contact struct {
	ID     string         `json:"id" yaml:"id"`
	Name   string         `json:"name" yaml:"name"`
	Number string         `json:"number" yaml:"number"`
	Raw    map[string]any `json:"raw,omitempty" yaml:"-"`
}

// ContactIDs returns the ids of contacts in order.
func ContactIDs(contacts []Contact) []string {
	ids := make([]string, len(contacts))
	for i, c := range contacts {
		ids[i] = c.ID
	}
	return ids
}
