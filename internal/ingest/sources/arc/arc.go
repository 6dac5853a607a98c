// Package arc implements the GPS backbone source plugin: the reference
// SourcePlugin the Location Enrichment Resolver consults by default.
// Grounded on the original "arc" location ingester: it reads daily
// gzip-compressed JSON exports of GPS samples, one sample per line.
package arc

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/arcline-io/timeline-engine/internal/ingest"
	"github.com/arcline-io/timeline-engine/internal/model"
)

// Sample is one line of a daily export file.
type Sample struct {
	TS       time.Time `json:"ts"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Accuracy float64   `json:"accuracy_m,omitempty"`
}

// Plugin reads GPS samples from gzip-compressed daily export files
// named YYYY-MM-DD.json.gz under Dir.
type Plugin struct {
	Dir string
}

func New(dir string) *Plugin {
	return &Plugin{Dir: dir}
}

func (p *Plugin) Name() string           { return "arc" }
func (p *Plugin) Schedule() string        { return "0 * * * *" }
func (p *Plugin) HasNativeLocation() bool { return true }

// Discover walks Dir for daily export files dated on or after since's
// day, reading each one fully before moving to the next. It is a lazy,
// finite, non-restartable sequence: callers get one pass per call.
func (p *Plugin) Discover(ctx context.Context, since time.Time) (<-chan ingest.RawItem, <-chan error) {
	items := make(chan ingest.RawItem)
	errs := make(chan error, 1)

	go func() {
		defer close(items)

		files, err := p.listFilesOnOrAfter(since)
		if err != nil {
			errs <- err
			return
		}
		for _, f := range files {
			if err := p.readFile(ctx, f, since, items); err != nil {
				errs <- err
				return
			}
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			default:
			}
		}
	}()

	return items, errs
}

func (p *Plugin) listFilesOnOrAfter(since time.Time) ([]string, error) {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		return nil, fmt.Errorf("read arc export dir: %w", err)
	}
	var files []string
	cutoff := since.UTC().Format("2006-01-02")
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) < 10 {
			continue
		}
		day := name[:10]
		if day < cutoff {
			continue
		}
		files = append(files, filepath.Join(p.Dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func (p *Plugin) readFile(ctx context.Context, path string, since time.Time, out chan<- ingest.RawItem) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("gunzip %s: %w", path, err)
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s Sample
		if err := json.Unmarshal(line, &s); err != nil {
			return fmt.Errorf("decode sample in %s: %w", path, err)
		}
		if s.TS.Before(since) {
			continue
		}
		select {
		case out <- s:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	return nil
}

// Extract maps one GPS sample into a single location.gps entity. The
// sample's own timestamp is its dedup key.
func (p *Plugin) Extract(raw ingest.RawItem) ([]*model.Entity, error) {
	s, ok := raw.(Sample)
	if !ok {
		return nil, fmt.Errorf("arc: unexpected raw item type %T", raw)
	}
	extID := s.TS.UTC().Format(time.RFC3339Nano)
	lat, lon := s.Lat, s.Lon
	payload, _ := json.Marshal(s)
	e := &model.Entity{
		Type:       "location.gps",
		ExternalID: &extID,
		TStart:     s.TS.UTC(),
		Lat:        &lat,
		Lon:        &lon,
		Payload:    payload,
	}
	return []*model.Entity{e}, nil
}
