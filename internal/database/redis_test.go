package database

import (
	"context"
	"testing"
	"time"

	"tilevault/internal/config"
	"tilevault/internal/geo"
	"tilevault/internal/metrics"
)

func TestRedisStore_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis test in short mode")
	}

	m := metrics.New()
	cfg := &config.Config{
		DBURL:                "redis://localhost:6379/0",
		KeyPrefix:            "test:",
		DBMaxConnections:     5,
		DatabaseQueryTimeout: 5 * time.Second,
	}

	ctx := context.Background()

	store, err := NewRedisStore(ctx, cfg, m)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer store.Close()

	rec := Record{
		ID:        "test-redis-1",
		StyleURL:  "style://outdoor",
		Bounds:    geo.Bounds{SW: geo.Point{Lat: 47, Lng: 9}, NE: geo.Point{Lat: 48, Lng: 10}},
		MinZoom:   8,
		MaxZoom:   13,
		Metadata:  `{"displayName":"Trailhead"}`,
		CreatedAt: time.Now(),
	}

	if err := store.PutRecord(ctx, rec); err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}
	defer store.DeleteRecord(ctx, rec.ID)

	if err := store.UpdateSize(ctx, rec.ID, 4096); err != nil {
		t.Fatalf("UpdateSize() error = %v", err)
	}

	records, err := store.ListRecords(ctx)
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}

	var found bool
	for _, r := range records {
		if r.ID != rec.ID {
			continue
		}
		found = true
		if r.StyleURL != rec.StyleURL {
			t.Errorf("StyleURL = %q, want %q", r.StyleURL, rec.StyleURL)
		}
		if r.MinZoom != 8 || r.MaxZoom != 13 {
			t.Errorf("zoom window = [%d, %d], want [8, 13]", r.MinZoom, r.MaxZoom)
		}
		// Metadata was stored as a blob string and must come back as one.
		if _, ok := r.Metadata.(string); !ok {
			t.Errorf("Metadata type = %T, want string", r.Metadata)
		}
		if size, ok := r.Fields["size_bytes"].(float64); !ok || int64(size) != 4096 {
			t.Errorf("Fields[size_bytes] = %v, want 4096", r.Fields["size_bytes"])
		}
	}
	if !found {
		t.Fatalf("ListRecords() did not return %q", rec.ID)
	}

	if err := store.DeleteRecord(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteRecord() error = %v", err)
	}

	records, err = store.ListRecords(ctx)
	if err != nil {
		t.Fatalf("ListRecords() after delete error = %v", err)
	}
	for _, r := range records {
		if r.ID == rec.ID {
			t.Errorf("record %q still listed after delete", rec.ID)
		}
	}
}

func TestRawFromObject(t *testing.T) {
	obj := map[string]any{
		"id":        "ignored",
		"style_url": "style://outdoor",
		"bounds": map[string]any{
			"sw": map[string]any{"lat": float64(47), "lng": float64(9)},
			"ne": map[string]any{"lat": float64(48), "lng": float64(10)},
		},
		"min_zoom":   float64(8),
		"max_zoom":   float64(13),
		"metadata":   `{"displayName":"Trailhead"}`,
		"created_at": float64(1700000000000),
		"size_bytes": float64(4096),
	}

	rec := rawFromObject("pack-1", obj)

	if rec.ID != "pack-1" {
		t.Errorf("ID = %q, want pack-1", rec.ID)
	}
	if rec.StyleURL != "style://outdoor" {
		t.Errorf("StyleURL = %q", rec.StyleURL)
	}
	if rec.Bounds.SW.Lat != 47 || rec.Bounds.NE.Lng != 10 {
		t.Errorf("Bounds = %+v", rec.Bounds)
	}
	if rec.MinZoom != 8 || rec.MaxZoom != 13 {
		t.Errorf("zoom window = [%d, %d], want [8, 13]", rec.MinZoom, rec.MaxZoom)
	}
	if _, ok := rec.Metadata.(string); !ok {
		t.Errorf("Metadata type = %T, want string", rec.Metadata)
	}

	// Structural fields are lifted out; the rest goes to Fields.
	if _, ok := rec.Fields["style_url"]; ok {
		t.Error("style_url leaked into Fields")
	}
	if _, ok := rec.Fields["size_bytes"]; !ok {
		t.Error("size_bytes missing from Fields")
	}
	if _, ok := rec.Fields["created_at"]; !ok {
		t.Error("created_at missing from Fields")
	}
}
