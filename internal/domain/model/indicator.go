package model

import (
	json "github.com/goccy/go-json"
)

// IndicatorKind is the matching engine's indicator type.
type IndicatorKind string

// Indicator kinds understood by the matching engine.
const (
	KindAddr     IndicatorKind = "Intel::ADDR"
	KindSubnet   IndicatorKind = "Intel::SUBNET"
	KindDomain   IndicatorKind = "Intel::DOMAIN"
	KindURL      IndicatorKind = "Intel::URL"
	KindEmail    IndicatorKind = "Intel::EMAIL"
	KindFileHash IndicatorKind = "Intel::FILE_HASH"
	KindFileName IndicatorKind = "Intel::FILE_NAME"
	KindCertHash IndicatorKind = "Intel::CERT_HASH"
	KindSoftware IndicatorKind = "Intel::SOFTWARE"
)

// Metadata travels with every inserted indicator and comes back on matches.
type Metadata struct {
	Source           string `json:"source"`
	Desc             string `json:"desc,omitempty"`
	URL              string `json:"url,omitempty"`
	ReportSightings  bool   `json:"report_sightings"`
	MISPEventID      string `json:"misp_event_id,omitempty"`
	MISPAttributeUID string `json:"misp_attribute_uid,omitempty"`

	// MISPEvent is the raw owning event.
	MISPEvent json.RawMessage `json:"misp_event,omitempty"`
}

// Reportable reports whether a match on this indicator may produce a sighting.
func (m Metadata) Reportable() bool {
	return m.ReportSightings && m.MISPAttributeUID != ""
}

// LocalIndicator is a record in the matching engine's native format.
type LocalIndicator struct {
	Indicator string        `json:"indicator"`
	Kind      IndicatorKind `json:"indicator_type"`
	Meta      Metadata      `json:"meta"`
}

// SeenInfo describes where the matching engine observed an indicator.
type SeenInfo struct {
	Indicator     string        `json:"indicator"`
	IndicatorType IndicatorKind `json:"indicator_type"`
	Where         string        `json:"where,omitempty"`
	Node          string        `json:"node,omitempty"`
}

// MatchItem is one inserted record that matched.
type MatchItem = LocalIndicator

// MatchEvent is one match batch emitted by the matching engine.
type MatchEvent struct {
	Seen  SeenInfo    `json:"seen"`
	Items []MatchItem `json:"items"`
}
