// Package model defines the unified entity record that every ingested
// source, query, and export path in timeline-engine shares.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Entity is the single row shape the store persists regardless of source.
// The derived geom and t_range columns have no field here: the store's
// maintainer computes them from Lat/Lon and TStart/TEnd on every write.
// CreatedAt and UpdatedAt are set by the store; values a caller puts in
// them are ignored.
type Entity struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Type         string         `json:"type"`
	Source       *string        `json:"source,omitempty"`
	ExternalID   *string        `json:"external_id,omitempty"`
	TStart       time.Time      `json:"t_start"`
	TEnd         *time.Time     `json:"t_end,omitempty"`
	Lat          *float64       `json:"lat,omitempty"`
	Lon          *float64       `json:"lon,omitempty"`
	Name         *string        `json:"name,omitempty"`
	Color        *string        `json:"color,omitempty"`
	RenderOffset float64        `json:"render_offset"`
	LocSource    *string        `json:"loc_source,omitempty"`
	Payload      datatypes.JSON `json:"payload"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// HasLocation reports whether the entity carries a resolved position.
func (e *Entity) HasLocation() bool {
	return e.Lat != nil && e.Lon != nil
}

// SourceWatermark tracks how far an ingestion source has progressed, so a
// rerun can resume from the last successfully processed point instead of
// rediscovering everything.
type SourceWatermark struct {
	Source    string    `gorm:"primaryKey" json:"source"`
	LastRun   time.Time `json:"last_run"`
	LastCount int       `json:"last_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Place is a named, user-curated cluster of visited locations.
type Place struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `json:"name"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	RadiusM   float64   `json:"radius_m"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
