package dsmr

import "time"

// Reading is the consolidated result of one telegram: the electricity
// timestamp anchoring the record, decoded fields keyed by sink field name,
// and the tariff indicator, which becomes a tag rather than a field.
type Reading struct {
	Time   time.Time      `json:"time"`
	Fields map[string]any `json:"fields"`
	Tariff *int           `json:"tariff,omitempty"`
}

// Watermarks carries the last accepted timestamp per sub-channel. A zero
// time means nothing has been accepted yet on that channel. The decoder
// never mutates its input marks; advanced copies are returned.
type Watermarks struct {
	Electricity time.Time
	Gas         time.Time
}
