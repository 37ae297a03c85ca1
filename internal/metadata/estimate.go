package metadata

import (
	"encoding/json"
	"strings"

	"tilevault/internal/models"
)

// estimateBaseBytes models the minimum overhead of any tile region;
// the 2x metadata length term models encoding overhead. The whole
// estimate is advisory: a placeholder approximation, not a measured
// value from the store.
const estimateBaseBytes = 50 * 1024

// Size field names reported by known record store versions, in
// preference order.
var knownSizeFields = []string{
	"size_bytes",
	"completed_size_bytes",
	"sizeBytes",
	"completedResourceSize",
	"size",
}

// EstimateSize produces a best-effort byte size for a pack. It prefers
// any size the store reported directly, falls back to a heuristic over
// the metadata blob, and returns nil when neither is available.
// Callers must treat nil as "unknown", never as zero.
func EstimateSize(rec models.RawPackRecord) *int64 {
	if n, ok := reportedSize(rec.Fields); ok {
		return &n
	}
	if blob, ok := reconstructBlob(rec.Metadata); ok {
		n := int64(estimateBaseBytes + 2*len(blob))
		return &n
	}
	return nil
}

func reportedSize(fields map[string]any) (int64, bool) {
	if len(fields) == 0 {
		return 0, false
	}
	for _, key := range knownSizeFields {
		if v, ok := fields[key]; ok {
			if n, ok := toInt64(v); ok {
				return n, true
			}
		}
	}
	// Last resort: any field whose name mentions size or bytes.
	for key, v := range fields {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "size") || strings.Contains(lower, "bytes") {
			if n, ok := toInt64(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// reconstructBlob recovers the serialized metadata blob from whatever
// shape the store handed back, for length-based estimation.
func reconstructBlob(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, v != ""
	case []byte:
		return string(v), len(v) > 0
	case json.RawMessage:
		return string(v), len(v) > 0
	case map[string]any:
		if blob, ok := reassembleIndexed(v); ok {
			return blob, true
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	default:
		return "", false
	}
}
