package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/arcline-io/timeline-engine/internal/model"
)

// DeriveExternalID returns e.ExternalID if the plugin already supplied
// one, or else a stable hash of (source, type, t_start, name) as a
// synthesizable dedup key, per the Source Plugin contract's fallback.
func DeriveExternalID(source string, e *model.Entity) string {
	if e.ExternalID != nil && *e.ExternalID != "" {
		return *e.ExternalID
	}
	name := ""
	if e.Name != nil {
		name = *e.Name
	}
	composite := fmt.Sprintf("%s|%s|%s|%s", source, e.Type, e.TStart.UTC().Format("2006-01-02T15:04:05.000000000Z"), name)
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}
