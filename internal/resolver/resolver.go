// Package resolver supplies coordinates to timestamped entities that
// lack native location, by stepping back to the most recent known GPS
// fix from a designated backbone source.
package resolver

import (
	"context"
	"time"
)

// FixLookup is the narrow slice of the Store the Resolver depends on,
// so it can be tested against a fake instead of a real database.
type FixLookup interface {
	LatestNativeFix(ctx context.Context, source string, instant time.Time) (lat, lon *float64, ok bool, err error)
}

// Resolver is a step function from the most recent known fix: it never
// extrapolates forward and never interpolates between fixes.
type Resolver struct {
	Store FixLookup
	// Source is the backbone source consulted for fixes. Parameterized
	// rather than hard-coded to "arc": nothing requires the GPS
	// backbone to be named "arc", and a deployment may swap it.
	Source string
}

func New(store FixLookup, source string) *Resolver {
	if source == "" {
		source = "arc"
	}
	return &Resolver{Store: store, Source: source}
}

// Resolve returns the latest known fix at or before instant, or
// ok=false if none exists.
func (r *Resolver) Resolve(ctx context.Context, instant time.Time) (lat, lon *float64, ok bool, err error) {
	return r.Store.LatestNativeFix(ctx, r.Source, instant)
}
