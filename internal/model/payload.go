package model

import (
	"encoding/json"
	"time"
)

// PayloadKind discriminates the shape stored in Entity.Payload. It is
// derived from the entity Type's namespace prefix; it is never persisted
// as its own column.
type PayloadKind string

const (
	PayloadMusic       PayloadKind = "music"
	PayloadPhoto       PayloadKind = "photo"
	PayloadSleep       PayloadKind = "sleep"
	PayloadTransaction PayloadKind = "transaction"
	PayloadCalendar    PayloadKind = "calendar"
	PayloadPlaceMeta   PayloadKind = "place_meta"
	PayloadVisitMeta   PayloadKind = "visit_meta"
	PayloadOpaque      PayloadKind = "opaque"
)

// KindForType maps an entity type string to the payload variant a
// consumer should decode it as. Anything unrecognized decodes as Opaque,
// so new source types never break older clients.
func KindForType(entityType string) PayloadKind {
	switch {
	case hasPrefix(entityType, "music."):
		return PayloadMusic
	case hasPrefix(entityType, "photo."):
		return PayloadPhoto
	case hasPrefix(entityType, "sleep."):
		return PayloadSleep
	case hasPrefix(entityType, "transaction."):
		return PayloadTransaction
	case hasPrefix(entityType, "calendar."):
		return PayloadCalendar
	case entityType == "place.meta":
		return PayloadPlaceMeta
	case entityType == "place.visit":
		return PayloadVisitMeta
	default:
		return PayloadOpaque
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// MusicPayload is the shape of a music.play entity's payload.
type MusicPayload struct {
	Track    string `json:"track"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Service  string `json:"service,omitempty"`
	Duration int    `json:"duration_sec,omitempty"`
}

// PhotoPayload is the shape of a photo.capture entity's payload.
type PhotoPayload struct {
	URI        string `json:"uri"`
	Camera     string `json:"camera,omitempty"`
	AlbumTitle string `json:"album_title,omitempty"`
}

// SleepPayload is the shape of a sleep.session entity's payload.
type SleepPayload struct {
	StageMinutes map[string]int `json:"stage_minutes,omitempty"`
	Score        *int           `json:"score,omitempty"`
}

// TransactionPayload is the shape of a transaction.purchase entity's payload.
type TransactionPayload struct {
	MerchantName string  `json:"merchant_name,omitempty"`
	AmountCents  int64   `json:"amount_cents"`
	Currency     string  `json:"currency"`
	Category     string  `json:"category,omitempty"`
}

// CalendarPayload is the shape of a calendar.event entity's payload.
type CalendarPayload struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Attendees   []string `json:"attendees,omitempty"`
}

// PlaceMetaPayload links a place.meta entity back to the curated place row.
type PlaceMetaPayload struct {
	PlaceID string `json:"place_id"`
	Name    string `json:"name"`
}

// VisitSample records one endpoint (entry or exit) of a detected visit:
// the GPS fix that opened or closed it.
type VisitSample struct {
	TStart time.Time `json:"t_start"`
	Lat    float64   `json:"lat"`
	Lon    float64   `json:"lon"`
}

// VisitMetaPayload is the shape of a place.visit entity's payload, produced
// by the visit detector.
type VisitMetaPayload struct {
	PlaceID         string      `json:"place_id,omitempty"`
	ClusterLat      float64     `json:"cluster_lat"`
	ClusterLon      float64     `json:"cluster_lon"`
	SampleCount     int         `json:"sample_count"`
	DwellMinutes    float64     `json:"dwell_minutes"`
	GapBeforeMinutes *float64   `json:"gap_before_minutes,omitempty"`
	BoundingRadiusM float64     `json:"bounding_radius_m"`
	EntrySample     VisitSample `json:"entry_sample"`
	ExitSample      VisitSample `json:"exit_sample"`
}

// DecodePayload unmarshals raw JSON into the typed variant matching kind.
// Unrecognized kinds decode into a generic map. A decode failure returns
// the error.
func DecodePayload(kind PayloadKind, raw []byte) (any, error) {
	var target any
	switch kind {
	case PayloadMusic:
		target = &MusicPayload{}
	case PayloadPhoto:
		target = &PhotoPayload{}
	case PayloadSleep:
		target = &SleepPayload{}
	case PayloadTransaction:
		target = &TransactionPayload{}
	case PayloadCalendar:
		target = &CalendarPayload{}
	case PayloadPlaceMeta:
		target = &PlaceMetaPayload{}
	case PayloadVisitMeta:
		target = &VisitMetaPayload{}
	default:
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, err
	}
	return target, nil
}
