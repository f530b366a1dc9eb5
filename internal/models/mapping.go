package models

import "time"

// EntityMapping correlates a source-side entity with its destination counterpart.
type EntityMapping struct {
	ID                  int64     `json:"id"`
	SourceTenant        string    `json:"source_tenant"`
	DestinationTenant   string    `json:"destination_tenant"`
	EntityType          string    `json:"entity_type"`
	SourceEntityID      string    `json:"source_entity_id"`
	DestinationEntityID string    `json:"destination_entity_id"`
	Name                string    `json:"name"`
	Direction           string    `json:"direction"`
	CreatedAt           time.Time `json:"created_at"`
}

// MappingKey identifies at most one destination counterpart.
type MappingKey struct {
	SourceTenant      string
	DestinationTenant string
	EntityType        string
	SourceEntityID    string
}
