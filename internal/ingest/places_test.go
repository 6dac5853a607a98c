package ingest

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arcline-io/timeline-engine/internal/model"
)

func TestHaversineMeters_KnownDistance(t *testing.T) {
	// Los Angeles to New York is roughly 3,940 km.
	d := haversineMeters(34.0522, -118.2437, 40.7128, -74.0060)
	if d < 3_800_000 || d > 4_000_000 {
		t.Fatalf("expected ~3940km, got %.0fm", d)
	}
}

func TestHaversineMeters_SamePointIsZero(t *testing.T) {
	if d := haversineMeters(10, 20, 10, 20); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDiscoverClusters_GroupsNearbyPoints(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fixes := []GPSFix{
		{TStart: base, Lat: 34.1000, Lon: -118.3000},
		{TStart: base.Add(time.Minute), Lat: 34.1001, Lon: -118.3001},
		{TStart: base.Add(2 * time.Minute), Lat: 34.1002, Lon: -118.3002},
		// far away, isolated noise point
		{TStart: base.Add(3 * time.Minute), Lat: 40.7128, Lon: -74.0060},
	}
	clusters := DiscoverClusters(fixes, 50, 3)
	if len(clusters) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(clusters))
	}
	if len(clusters[0].Members) != 3 {
		t.Fatalf("expected 3 members in cluster, got %d", len(clusters[0].Members))
	}
}

func TestCentroidAndRadius(t *testing.T) {
	c := Cluster{Members: []GPSFix{
		{Lat: 34.0, Lon: -118.0},
		{Lat: 34.0, Lon: -118.0},
	}}
	cand := CentroidAndRadius(0, c)
	if math.Abs(cand.Lat-34.0) > 1e-9 || math.Abs(cand.Lon-(-118.0)) > 1e-9 {
		t.Fatalf("expected centroid at member location, got (%f,%f)", cand.Lat, cand.Lon)
	}
	if cand.RadiusM != 0 {
		t.Fatalf("expected 0 radius for identical points, got %f", cand.RadiusM)
	}
}

func TestDetectVisits_OpensExtendsAndClosesOnGap(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	fixes := []GPSFix{
		{TStart: base, Lat: 34.10, Lon: -118.30},
		{TStart: base.Add(5 * time.Minute), Lat: 34.1001, Lon: -118.3001},
		{TStart: base.Add(10 * time.Minute), Lat: 34.1002, Lon: -118.3002},
		// big gap, then outside the radius
		{TStart: base.Add(2 * time.Hour), Lat: 40.0, Lon: -74.0},
	}
	visits := DetectVisits(fixes, 34.10, -118.30, 50, VisitParams{MaxGap: 15 * time.Minute, MinDwell: 5 * time.Minute})
	if len(visits) != 1 {
		t.Fatalf("expected 1 visit, got %d", len(visits))
	}
	v := visits[0]
	if !v.Entry.Equal(base) {
		t.Fatalf("expected entry at %v, got %v", base, v.Entry)
	}
	wantExit := base.Add(10 * time.Minute)
	if !v.Exit.Equal(wantExit) {
		t.Fatalf("expected exit at %v, got %v", wantExit, v.Exit)
	}
	if v.GapBefore != nil {
		t.Fatalf("expected nil gap-before for the first visit in a run, got %v", *v.GapBefore)
	}
}

func TestDetectVisits_ComputesGapBeforeFromPriorExit(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	fixes := []GPSFix{
		// first visit: 9:00 - 9:10
		{TStart: base, Lat: 34.10, Lon: -118.30},
		{TStart: base.Add(10 * time.Minute), Lat: 34.1001, Lon: -118.3001},
		// leaves the radius for an hour
		{TStart: base.Add(70 * time.Minute), Lat: 40.0, Lon: -74.0},
		// second visit: 11:10 - 11:25
		{TStart: base.Add(130 * time.Minute), Lat: 34.10, Lon: -118.30},
		{TStart: base.Add(145 * time.Minute), Lat: 34.1001, Lon: -118.3001},
		{TStart: base.Add(200 * time.Minute), Lat: 40.0, Lon: -74.0},
	}
	visits := DetectVisits(fixes, 34.10, -118.30, 50, VisitParams{MaxGap: 15 * time.Minute, MinDwell: 5 * time.Minute})
	if len(visits) != 2 {
		t.Fatalf("expected 2 visits, got %d", len(visits))
	}
	if visits[0].GapBefore != nil {
		t.Fatalf("expected nil gap-before for the first visit, got %v", *visits[0].GapBefore)
	}
	if visits[1].GapBefore == nil {
		t.Fatal("expected a gap-before for the second visit")
	}
	wantGap := visits[1].Entry.Sub(visits[0].Exit)
	if *visits[1].GapBefore != wantGap {
		t.Fatalf("expected gap-before %v, got %v", wantGap, *visits[1].GapBefore)
	}
}

func TestDetectVisits_DropsShortDwell(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	fixes := []GPSFix{
		{TStart: base, Lat: 34.10, Lon: -118.30},
		{TStart: base.Add(2 * time.Minute), Lat: 34.1001, Lon: -118.3001},
		// leaves the radius, closing the 2-minute span
		{TStart: base.Add(time.Hour), Lat: 40.0, Lon: -74.0},
	}
	visits := DetectVisits(fixes, 34.10, -118.30, 50, VisitParams{MaxGap: 15 * time.Minute, MinDwell: 10 * time.Minute})
	if len(visits) != 0 {
		t.Fatalf("expected 0 visits for short dwell, got %d", len(visits))
	}
}

func TestDetectVisits_DoesNotEmitDanglingOpenVisit(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	fixes := []GPSFix{
		{TStart: base, Lat: 34.10, Lon: -118.30},
		{TStart: base.Add(10 * time.Minute), Lat: 34.1001, Lon: -118.3001},
	}
	// sequence ends while still inside the radius: no closing sample yet
	visits := DetectVisits(fixes, 34.10, -118.30, 50, VisitParams{MaxGap: 15 * time.Minute, MinDwell: 5 * time.Minute})
	if len(visits) != 0 {
		t.Fatalf("expected no visit emitted for a still-open span, got %d", len(visits))
	}
}

func TestBuildVisitEntity_PopulatesGapBoundingRadiusAndEndpointSamples(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	gap := 45 * time.Minute
	v := Visit{
		Entry: base,
		Exit:  base.Add(10 * time.Minute),
		Samples: []GPSFix{
			{TStart: base, Lat: 34.1000, Lon: -118.3000},
			{TStart: base.Add(5 * time.Minute), Lat: 34.1002, Lon: -118.3002},
			{TStart: base.Add(10 * time.Minute), Lat: 34.1001, Lon: -118.3001},
		},
		GapBefore: &gap,
	}
	placeID := uuid.New()

	e := BuildVisitEntity(placeID, 0, v, 50)

	var payload model.VisitMetaPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		t.Fatalf("payload did not decode: %v", err)
	}
	if payload.GapBeforeMinutes == nil || *payload.GapBeforeMinutes != gap.Minutes() {
		t.Fatalf("expected gap_before_minutes=%v, got %v", gap.Minutes(), payload.GapBeforeMinutes)
	}
	if payload.BoundingRadiusM <= 0 {
		t.Fatalf("expected a positive bounding radius, got %f", payload.BoundingRadiusM)
	}
	if !payload.EntrySample.TStart.Equal(base) {
		t.Fatalf("expected entry sample at %v, got %v", base, payload.EntrySample.TStart)
	}
	if !payload.ExitSample.TStart.Equal(v.Exit) {
		t.Fatalf("expected exit sample at %v, got %v", v.Exit, payload.ExitSample.TStart)
	}
	if payload.SampleCount != 3 {
		t.Fatalf("expected sample_count=3, got %d", payload.SampleCount)
	}
}

func TestBuildVisitEntity_NilGapBeforeOmittedFromPayload(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	v := Visit{
		Entry: base,
		Exit:  base.Add(10 * time.Minute),
		Samples: []GPSFix{
			{TStart: base, Lat: 34.1000, Lon: -118.3000},
			{TStart: base.Add(10 * time.Minute), Lat: 34.1000, Lon: -118.3000},
		},
	}
	e := BuildVisitEntity(uuid.New(), 0, v, 50)

	var payload model.VisitMetaPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		t.Fatalf("payload did not decode: %v", err)
	}
	if payload.GapBeforeMinutes != nil {
		t.Fatalf("expected nil gap_before_minutes for a first visit, got %v", *payload.GapBeforeMinutes)
	}
}
