// Package metadata encodes and decodes the opaque metadata blob
// attached to every offline pack. Record stores re-represent the blob
// in several shapes (plain string, structured object, or a map from
// stringified character index to character), so decoding is a tiered
// best-effort pipeline that never fails: a pack with mangled metadata
// still gets a usable display label.
package metadata

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"tilevault/internal/models"
)

// Source identifies which decode tier produced a result. Exposed so
// the catalog can count how often each fallback fires.
type Source string

const (
	SourceObject      Source = "object"      // store handed back a structured object
	SourceBlob        Source = "blob"        // exact bytes produced by Encode
	SourceIndexed     Source = "indexed"     // blob scattered across numeric keys
	SourceSynthesized Source = "synthesized" // nothing recoverable, label synthesized
)

// fragmentMax bounds how much of an unparsable blob ends up in a
// synthesized label.
const fragmentMax = 48

// Encode serializes metadata into the opaque blob handed to the record
// store. Input always originates from this process, so there is no
// failure path.
func Encode(m models.PackMetadata) []byte {
	b, err := json.Marshal(m)
	if err != nil {
		// Unreachable for a struct of string and *int64.
		return []byte("{}")
	}
	return b
}

// Decode reconstructs metadata from whatever shape the store handed
// back. It is total: every input yields a PackMetadata with a
// non-empty DisplayName, degrading tier by tier down to a label
// synthesized from the pack identifier.
func Decode(packID string, raw any) (models.PackMetadata, Source) {
	switch v := raw.(type) {
	case map[string]any:
		if meta, ok := fromObject(v); ok {
			return meta, SourceObject
		}
		if blob, ok := reassembleIndexed(v); ok {
			if parsed, err := parseBlob(blob); err == nil {
				if meta, ok := fromObject(parsed); ok {
					return meta, SourceIndexed
				}
			}
		}
		// Object with no recognizable name and no reconstructible
		// blob: keep whatever timestamp survived, synthesize the rest.
		meta, _ := fromObject(v)
		meta.DisplayName = fallbackLabel(packID)
		return meta, SourceSynthesized
	case string:
		return decodeBlob(packID, v)
	case []byte:
		return decodeBlob(packID, string(v))
	case json.RawMessage:
		return decodeBlob(packID, string(v))
	default:
		return models.PackMetadata{DisplayName: fallbackLabel(packID)}, SourceSynthesized
	}
}

// decodeBlob parses an opaque string blob. A parse failure degrades to
// a label carrying a fragment of the raw string so the entry stays
// identifiable in a list.
func decodeBlob(packID, blob string) (models.PackMetadata, Source) {
	if parsed, err := parseBlob(blob); err == nil {
		if meta, ok := fromObject(parsed); ok {
			return meta, SourceBlob
		}
		meta, _ := fromObject(parsed)
		meta.DisplayName = fallbackLabel(packID)
		return meta, SourceSynthesized
	}
	return models.PackMetadata{DisplayName: fragmentLabel(packID, blob)}, SourceSynthesized
}

// parseBlob unmarshals a blob into a generic object.
func parseBlob(blob string) (map[string]any, error) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(blob), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

// fromObject extracts metadata from a structured object. The second
// return reports whether a display name was actually present; the
// timestamp is extracted regardless.
func fromObject(obj map[string]any) (models.PackMetadata, bool) {
	var meta models.PackMetadata
	for _, key := range []string{"displayName", "display_name", "name"} {
		if s, ok := obj[key].(string); ok && s != "" {
			meta.DisplayName = s
			break
		}
	}
	for _, key := range []string{"downloadedAtEpochMillis", "downloadedAt", "downloaded_at"} {
		if v, ok := obj[key]; ok {
			if n, ok := toInt64(v); ok {
				meta.DownloadedAtEpochMillis = &n
				break
			}
		}
	}
	return meta, meta.DisplayName != ""
}

// reassembleIndexed reconstructs a string blob from a map of
// stringified character index to character, a known corruption mode of
// cross-boundary transports. Keys must sort numerically: "10" comes
// after "2".
func reassembleIndexed(obj map[string]any) (string, bool) {
	type indexedChar struct {
		idx int
		s   string
	}
	chars := make([]indexedChar, 0, len(obj))
	for k, v := range obj {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		chars = append(chars, indexedChar{idx: idx, s: s})
	}
	if len(chars) == 0 {
		return "", false
	}
	sort.Slice(chars, func(i, j int) bool { return chars[i].idx < chars[j].idx })
	var b strings.Builder
	for _, c := range chars {
		b.WriteString(c.s)
	}
	return b.String(), true
}

// toInt64 coerces the numeric shapes JSON decoding can produce.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func fallbackLabel(packID string) string {
	return "Pack: " + packID
}

func fragmentLabel(packID, raw string) string {
	frag := strings.TrimSpace(raw)
	if frag == "" {
		return fallbackLabel(packID)
	}
	if len(frag) > fragmentMax {
		frag = frag[:fragmentMax]
	}
	return "Pack: " + frag
}
