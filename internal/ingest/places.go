package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/arcline-io/timeline-engine/internal/model"
	"github.com/arcline-io/timeline-engine/internal/store"
)

const earthRadiusMeters = 6371000.0

// haversineMeters returns the great-circle distance between two WGS84
// points in meters.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// GPSFix is a single type=location.gps sample fed into cluster discovery
// and visit detection.
type GPSFix struct {
	TStart time.Time
	Lat    float64
	Lon    float64
}

// ClusterParams configures density-based cluster discovery.
type ClusterParams struct {
	EpsMeters          float64
	MinSamples         int
	MinVisitCount      int
	MinTotalDwellHours float64
}

// Cluster is one density-connected group of GPS fixes, before the
// significance filter.
type Cluster struct {
	Members []GPSFix
}

// DiscoverClusters groups fixes by density using a DBSCAN-style pass:
// eps is treated as a great-circle (haversine) radius. No significance
// filtering happens here; the caller applies MinVisitCount/
// MinTotalDwellHours after converting clusters to candidate places.
func DiscoverClusters(fixes []GPSFix, eps float64, minSamples int) []Cluster {
	n := len(fixes)
	visited := make([]bool, n)
	clusterOf := make([]int, n)
	for i := range clusterOf {
		clusterOf[i] = -1
	}

	neighbors := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			if haversineMeters(fixes[i].Lat, fixes[i].Lon, fixes[j].Lat, fixes[j].Lon) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	clusterID := 0
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		ns := neighbors(i)
		if len(ns)+1 < minSamples {
			continue // noise point, not assigned to any cluster
		}
		clusterOf[i] = clusterID

		queue := append([]int{}, ns...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if !visited[j] {
				visited[j] = true
				njs := neighbors(j)
				if len(njs)+1 >= minSamples {
					queue = append(queue, njs...)
				}
			}
			if clusterOf[j] == -1 {
				clusterOf[j] = clusterID
			}
		}
		clusterID++
	}

	clusters := make([]Cluster, clusterID)
	for i, c := range clusterOf {
		if c >= 0 {
			clusters[c].Members = append(clusters[c].Members, fixes[i])
		}
	}
	return clusters
}

// CandidatePlace is a cluster reduced to its centroid and significance
// radius, ready to become a place entity if it passes the significance
// filter.
type CandidatePlace struct {
	Index      int
	Lat, Lon   float64
	RadiusM    float64
	SampleCount int
}

// CentroidAndRadius computes a cluster's mean coordinate and the 95th
// percentile haversine distance of its members from that centroid.
func CentroidAndRadius(index int, c Cluster) CandidatePlace {
	var sumLat, sumLon float64
	for _, m := range c.Members {
		sumLat += m.Lat
		sumLon += m.Lon
	}
	n := float64(len(c.Members))
	lat, lon := sumLat/n, sumLon/n

	dists := make([]float64, len(c.Members))
	for i, m := range c.Members {
		dists[i] = haversineMeters(lat, lon, m.Lat, m.Lon)
	}
	sort.Float64s(dists)
	radius := percentile95(dists)

	return CandidatePlace{Index: index, Lat: lat, Lon: lon, RadiusM: radius, SampleCount: len(c.Members)}
}

func percentile95(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// BuildPlaceEntity turns a candidate into a place entity, provided it
// passes the significance filter, given the member fixes' time span for
// the dwell-hours check.
func BuildPlaceEntity(cand CandidatePlace, totalDwellHours float64, params ClusterParams) (*model.Entity, bool) {
	if cand.SampleCount < params.MinVisitCount || totalDwellHours < params.MinTotalDwellHours {
		return nil, false
	}
	extID := fmt.Sprintf("cluster_%d", cand.Index)
	source := "place_detector"
	lat, lon := cand.Lat, cand.Lon
	payload, _ := json.Marshal(model.PlaceMetaPayload{PlaceID: "", Name: extID})
	e := &model.Entity{
		ID:         uuid.New(),
		Type:       "place.meta",
		Source:     &source,
		ExternalID: &extID,
		TStart:     time.Time{}, // timeless marker
		Lat:        &lat,
		Lon:        &lon,
		Payload:    payload,
	}
	return e, true
}

// Visit is a detected span during which fixes stayed within a place's
// radius.
type Visit struct {
	EntryIdx, ExitIdx int
	Entry, Exit       time.Time
	Samples           []GPSFix
	// GapBefore is the elapsed time since the previous visit's exit, or
	// nil for the first visit detected in a run (no prior visit to gap
	// against).
	GapBefore *time.Duration
}

// VisitParams configures visit-span detection.
type VisitParams struct {
	MaxGap   time.Duration
	MinDwell time.Duration
}

// DetectVisits scans a time-ordered GPS sequence and returns the spans
// during which the track stayed within radius of (centerLat,centerLon),
// tolerating gaps up to MaxGap and keeping spans whose dwell reaches
// MinDwell. fixes must already be sorted by TStart ascending.
//
// A visit whose closing sample hasn't arrived yet (the sequence ends
// while still inside the radius) is not emitted by this call — the
// caller re-scans on the next run and it is emitted once a closing
// sample exists, to avoid ever writing a visit with a t_end a later run
// would need to retract.
func DetectVisits(fixes []GPSFix, centerLat, centerLon, radiusM float64, params VisitParams) []Visit {
	var visits []Visit
	inside := false
	var start int
	var lastInsideIdx int
	var lastExit *time.Time

	flush := func(endIdx int) {
		if !inside {
			return
		}
		entry := fixes[start].TStart
		exit := fixes[endIdx].TStart
		if exit.Sub(entry) >= params.MinDwell {
			var gapBefore *time.Duration
			if lastExit != nil {
				g := entry.Sub(*lastExit)
				gapBefore = &g
			}
			visits = append(visits, Visit{
				EntryIdx: start, ExitIdx: endIdx,
				Entry: entry, Exit: exit,
				Samples:   fixes[start : endIdx+1],
				GapBefore: gapBefore,
			})
			lastExit = &exit
		}
		inside = false
	}

	for i, f := range fixes {
		within := haversineMeters(f.Lat, f.Lon, centerLat, centerLon) <= radiusM
		if within {
			if !inside {
				inside = true
				start = i
			} else if f.TStart.Sub(fixes[lastInsideIdx].TStart) > params.MaxGap {
				flush(lastInsideIdx)
				inside = true
				start = i
			}
			lastInsideIdx = i
		} else if inside {
			flush(lastInsideIdx)
		}
	}
	// Intentionally do not flush a still-open visit at the end of the
	// sequence: see the doc comment above.

	return visits
}

// BuildVisitEntity converts a detected visit into a place.visit entity.
// radiusM, the place's own significance radius, is not used: the
// payload's bounding radius is the 95th-percentile distance of the
// visit's samples from their own centroid.
func BuildVisitEntity(placeID uuid.UUID, clusterIdx int, v Visit, radiusM float64) *model.Entity {
	extID := fmt.Sprintf("visit_%s_cluster_%d", v.Entry.UTC().Format(time.RFC3339), clusterIdx)
	source := "place_detector"
	var sumLat, sumLon float64
	for _, s := range v.Samples {
		sumLat += s.Lat
		sumLon += s.Lon
	}
	n := float64(len(v.Samples))
	clat, clon := sumLat/n, sumLon/n

	dists := make([]float64, len(v.Samples))
	for i, s := range v.Samples {
		dists[i] = haversineMeters(clat, clon, s.Lat, s.Lon)
	}
	sort.Float64s(dists)
	boundingRadius := percentile95(dists)

	var gapBeforeMinutes *float64
	if v.GapBefore != nil {
		m := v.GapBefore.Minutes()
		gapBeforeMinutes = &m
	}

	first, last := v.Samples[0], v.Samples[len(v.Samples)-1]
	dwellMinutes := v.Exit.Sub(v.Entry).Minutes()
	placeIDStr := placeID.String()
	payload, _ := json.Marshal(model.VisitMetaPayload{
		PlaceID: placeIDStr, ClusterLat: clat, ClusterLon: clon,
		SampleCount: len(v.Samples), DwellMinutes: dwellMinutes,
		GapBeforeMinutes: gapBeforeMinutes,
		BoundingRadiusM:  boundingRadius,
		EntrySample:      model.VisitSample{TStart: first.TStart, Lat: first.Lat, Lon: first.Lon},
		ExitSample:       model.VisitSample{TStart: last.TStart, Lat: last.Lat, Lon: last.Lon},
	})
	end := v.Exit
	return &model.Entity{
		ID:         uuid.New(),
		Type:       "place.visit",
		Source:     &source,
		ExternalID: &extID,
		TStart:     v.Entry,
		TEnd:       &end,
		Lat:        &clat,
		Lon:        &clon,
		Payload:    payload,
	}
}

// PlaceDetectorStore is the slice of the Store the detector needs: it
// writes place and place.visit entities and the curated places table.
type PlaceDetectorStore interface {
	Upsert(ctx context.Context, e *model.Entity) (store.UpsertResult, error)
	UpsertPlace(ctx context.Context, p *model.Place) error
}

// PlaceDetector runs the two synthesis passes (cluster discovery, visit
// detection) against a store, independent of the plugin registry.
type PlaceDetector struct {
	Store  PlaceDetectorStore
	Params ClusterParams
	Visit  VisitParams
}

// DiscoveredPlace pairs a surviving cluster's centroid/radius with the
// id RunClusterDiscovery assigned its curated Place row, so a caller can
// thread the same id into RunVisitDetection and every place.visit it
// writes references the place that was actually persisted.
type DiscoveredPlace struct {
	ID        uuid.UUID
	Candidate CandidatePlace
}

// RunClusterDiscovery groups fixes into clusters, filters by
// significance, and upserts a place.meta entity plus a curated Place row
// for each surviving cluster. It returns the clusters that passed the
// filter, keyed by their cluster index, together with the Place id each
// was persisted under, for use by RunVisitDetection.
func (d *PlaceDetector) RunClusterDiscovery(ctx context.Context, fixes []GPSFix) (map[int]DiscoveredPlace, error) {
	clusters := DiscoverClusters(fixes, d.Params.EpsMeters, d.Params.MinSamples)
	survivors := map[int]DiscoveredPlace{}

	for i, c := range clusters {
		if len(c.Members) == 0 {
			continue
		}
		cand := CentroidAndRadius(i, c)
		dwellHours := totalDwellHours(c.Members, d.Visit)
		ent, ok := BuildPlaceEntity(cand, dwellHours, d.Params)
		if !ok {
			continue
		}
		placeID := uuid.New()
		ent.Payload, _ = json.Marshal(model.PlaceMetaPayload{PlaceID: placeID.String(), Name: *ent.ExternalID})
		if _, err := d.Store.Upsert(ctx, ent); err != nil {
			return nil, fmt.Errorf("upsert place.meta: %w", err)
		}
		place := &model.Place{ID: placeID, Name: *ent.ExternalID, Lat: cand.Lat, Lon: cand.Lon, RadiusM: cand.RadiusM}
		if err := d.Store.UpsertPlace(ctx, place); err != nil {
			return nil, fmt.Errorf("upsert place: %w", err)
		}
		survivors[i] = DiscoveredPlace{ID: place.ID, Candidate: cand}
	}
	return survivors, nil
}

// RunVisitDetection scans fixes against a surviving cluster's radius and
// upserts a place.visit entity per qualifying visit, referencing placeID.
func (d *PlaceDetector) RunVisitDetection(ctx context.Context, placeID uuid.UUID, clusterIdx int, cand CandidatePlace, fixes []GPSFix) (int, error) {
	visits := DetectVisits(fixes, cand.Lat, cand.Lon, cand.RadiusM, d.Visit)
	for _, v := range visits {
		ent := BuildVisitEntity(placeID, clusterIdx, v, cand.RadiusM)
		if _, err := d.Store.Upsert(ctx, ent); err != nil {
			return 0, fmt.Errorf("upsert place.visit: %w", err)
		}
	}
	return len(visits), nil
}

// Run is the detector's single entry point: discover clusters over
// fixes, persist the places that pass the significance filter, then run
// visit detection against each one, threading the place id discovery
// assigned into the visits written for it. fixes need not be pre-sorted;
// Run sorts a copy by TStart before handing it to either pass.
func (d *PlaceDetector) Run(ctx context.Context, fixes []GPSFix) (placesFound, visitsFound int, err error) {
	sorted := append([]GPSFix{}, fixes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TStart.Before(sorted[j].TStart) })

	survivors, err := d.RunClusterDiscovery(ctx, sorted)
	if err != nil {
		return 0, 0, err
	}
	for idx, place := range survivors {
		n, err := d.RunVisitDetection(ctx, place.ID, idx, place.Candidate, sorted)
		if err != nil {
			return len(survivors), visitsFound, err
		}
		visitsFound += n
	}
	return len(survivors), visitsFound, nil
}

// totalDwellHours estimates a cluster's total dwell by running visit
// detection against its own centroid/radius and summing visit spans —
// a cheap proxy for "how much time was actually spent here" used only
// to gate the significance filter.
func totalDwellHours(members []GPSFix, visitParams VisitParams) float64 {
	if len(members) == 0 {
		return 0
	}
	var sumLat, sumLon float64
	for _, m := range members {
		sumLat += m.Lat
		sumLon += m.Lon
	}
	n := float64(len(members))
	lat, lon := sumLat/n, sumLon/n
	maxDist := 0.0
	for _, m := range members {
		if d := haversineMeters(lat, lon, m.Lat, m.Lon); d > maxDist {
			maxDist = d
		}
	}
	sorted := append([]GPSFix{}, members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TStart.Before(sorted[j].TStart) })
	visits := DetectVisits(sorted, lat, lon, maxDist+1, visitParams)
	total := 0.0
	for _, v := range visits {
		total += v.Exit.Sub(v.Entry).Hours()
	}
	return total
}
