// Package model contains domain records passed between layers.
package model

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// RemoteAttribute is one indicator record as returned by the remote platform.
// Numeric identifiers arrive as strings and are kept that way.
type RemoteAttribute struct {
	ID        string `json:"id"`
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	Category  string `json:"category,omitempty"`
	Value     string `json:"value"`
	UUID      string `json:"uuid"`
	ToIDs     bool   `json:"to_ids"`
	Timestamp string `json:"timestamp,omitempty"`
	Comment   string `json:"comment,omitempty"`

	// Event is the embedded owning event, kept verbatim.
	Event json.RawMessage `json:"Event,omitempty"`
}

// EventRef identifies the event an attribute belongs to.
type EventRef struct {
	ID   string `json:"id"`
	UUID string `json:"uuid,omitempty"`
	Info string `json:"info,omitempty"`
}

// EventRef decodes the embedded event. The attribute-level event_id is used
// when the embedded event is absent or carries no id.
func (a RemoteAttribute) EventRef() (EventRef, error) {
	var ref EventRef
	if len(a.Event) > 0 && string(a.Event) != "null" {
		if err := json.Unmarshal(a.Event, &ref); err != nil {
			return EventRef{ID: a.EventID}, fmt.Errorf("decode event of attribute %s: %w", a.ID, err)
		}
	}
	if ref.ID == "" {
		ref.ID = a.EventID
	}
	return ref, nil
}

// Sighting is the remote platform's acknowledgement of a reported sighting.
type Sighting struct {
	ID           string `json:"id"`
	AttributeID  string `json:"attribute_id,omitempty"`
	EventID      string `json:"event_id,omitempty"`
	OrgID        string `json:"org_id,omitempty"`
	DateSighting string `json:"date_sighting,omitempty"`
	UUID         string `json:"uuid,omitempty"`
	Source       string `json:"source,omitempty"`
	Type         string `json:"type,omitempty"`
}
