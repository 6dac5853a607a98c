// Package planner validates and normalizes the two public query
// shapes (time-window, bbox) into parameters the store's index-
// using plans accept, enforcing the bounds the API contract promises.
package planner

import (
	"time"

	"github.com/arcline-io/timeline-engine/internal/apierr"
	"github.com/arcline-io/timeline-engine/internal/store"
)

const (
	timeLimitDefault = 2000
	bboxLimitDefault = 5000
	hardLimitCap     = 10000
	resampleMinN     = 1
	resampleMaxN     = 10000
)

// TimeRequest is the wire shape of POST /v1/query/time.
type TimeRequest struct {
	Types    []string       `json:"types"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
	Limit    *int           `json:"limit,omitempty"`
	Order    string         `json:"order,omitempty"`
	Cursor   string         `json:"cursor,omitempty"`
	Resample *ResampleInput `json:"resample,omitempty"`
}

type ResampleInput struct {
	Method string `json:"method"`
	N      int    `json:"n"`
}

// BBoxRequest is the wire shape of POST /v1/query/bbox.
type BBoxRequest struct {
	Types []string    `json:"types"`
	BBox  [4]float64  `json:"bbox"`
	Time  *TimeWindow `json:"time,omitempty"`
	Limit *int        `json:"limit,omitempty"`
	Order string      `json:"order,omitempty"`
}

type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// PlanTime validates req and builds the store.TimeQuery it implies, or
// a store.ResampleQuery when resample is present.
func PlanTime(req TimeRequest) (tq store.TimeQuery, rq store.ResampleQuery, resample bool, err error) {
	if len(req.Types) == 0 {
		return tq, rq, false, apierr.Validation("types must be non-empty")
	}
	if !req.Start.Before(req.End) {
		return tq, rq, false, apierr.Validation("start must be before end")
	}

	if req.Resample != nil {
		if req.Resample.Method != "" && req.Resample.Method != "uniform_time" {
			return tq, rq, false, apierr.Validation("resample.method must be uniform_time")
		}
		if req.Resample.N < resampleMinN || req.Resample.N > resampleMaxN {
			return tq, rq, false, apierr.Validation("resample.n must be in [1, 10000]")
		}
		if req.Limit != nil {
			return tq, rq, false, apierr.Validation("resample and limit are mutually exclusive")
		}
		if req.Cursor != "" {
			return tq, rq, false, apierr.Validation("resample and cursor are mutually exclusive")
		}
		rq = store.ResampleQuery{Types: req.Types, Start: req.Start, End: req.End, N: req.Resample.N}
		return tq, rq, true, nil
	}

	limit, err := normalizeLimit(req.Limit, timeLimitDefault)
	if err != nil {
		return tq, rq, false, err
	}
	desc, err := parseTimeOrder(req.Order)
	if err != nil {
		return tq, rq, false, err
	}
	after, err := store.DecodeCursor(req.Cursor)
	if err != nil {
		return tq, rq, false, apierr.Validation("cursor is malformed")
	}

	tq = store.TimeQuery{Types: req.Types, Start: req.Start, End: req.End, Limit: limit, Desc: desc, After: after}
	return tq, rq, false, nil
}

// PlanBBox validates req and builds the store.BBoxQuery it implies.
func PlanBBox(req BBoxRequest) (store.BBoxQuery, error) {
	if len(req.Types) == 0 {
		return store.BBoxQuery{}, apierr.Validation("types must be non-empty")
	}
	lonMin, latMin, lonMax, latMax := req.BBox[0], req.BBox[1], req.BBox[2], req.BBox[3]
	if lonMin >= lonMax || latMin >= latMax {
		return store.BBoxQuery{}, apierr.Validation("bbox requires lonmin < lonmax and latmin < latmax")
	}
	if lonMin < -180 || lonMax > 180 || latMin < -90 || latMax > 90 {
		return store.BBoxQuery{}, apierr.Validation("bbox coordinates must be within WGS84 bounds")
	}

	limit, err := normalizeLimit(req.Limit, bboxLimitDefault)
	if err != nil {
		return store.BBoxQuery{}, err
	}

	order := req.Order
	if order == "" {
		order = "t_start_desc"
	}
	if order != "t_start_asc" && order != "t_start_desc" && order != "random" {
		return store.BBoxQuery{}, apierr.Validation("order must be t_start_asc, t_start_desc, or random")
	}

	q := store.BBoxQuery{
		Types: req.Types, LonMin: lonMin, LatMin: latMin, LonMax: lonMax, LatMax: latMax,
		Limit: limit, Order: order,
	}
	if req.Time != nil {
		if !req.Time.Start.Before(req.Time.End) {
			return store.BBoxQuery{}, apierr.Validation("time.start must be before time.end")
		}
		q.HasTimeWindow = true
		q.Start = req.Time.Start
		q.End = req.Time.End
	}
	return q, nil
}

func normalizeLimit(v *int, def int) (int, error) {
	if v == nil {
		return def, nil
	}
	if *v < 1 || *v > hardLimitCap {
		return 0, apierr.Validation("limit must be in [1, 10000]")
	}
	return *v, nil
}

func parseTimeOrder(order string) (desc bool, err error) {
	switch order {
	case "", "t_start_asc":
		return false, nil
	case "t_start_desc":
		return true, nil
	default:
		return false, apierr.Validation("order must be t_start_asc or t_start_desc")
	}
}
