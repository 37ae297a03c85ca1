package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tilevault/internal/circuitbreaker"
	"tilevault/internal/config"
	"tilevault/internal/database"
	"tilevault/internal/geo"
	"tilevault/internal/metrics"
	"tilevault/internal/models"
)

// Shared metrics instance to avoid duplicate Prometheus registration
var sharedMetrics = metrics.New()

// fakeDB is an in-memory database.Store
type fakeDB struct {
	mu      sync.Mutex
	records map[string]database.Record
	sizes   map[string]int64
	putErr  error
	delErr  error
	deleted []string
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		records: make(map[string]database.Record),
		sizes:   make(map[string]int64),
	}
}

func (f *fakeDB) ListRecords(ctx context.Context) ([]models.RawPackRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.RawPackRecord, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, models.RawPackRecord{ID: rec.ID, Metadata: rec.Metadata})
	}
	return out, nil
}

func (f *fakeDB) PutRecord(ctx context.Context, rec database.Record) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeDB) UpdateSize(ctx context.Context, id string, sizeBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes[id] = sizeBytes
	return nil
}

func (f *fakeDB) DeleteRecord(ctx context.Context, id string) error {
	if f.delErr != nil {
		return f.delErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeDB) Close() error { return nil }

// fakeSink is an in-memory tilestore.Sink
type fakeSink struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	delErr  error
	deleted []string
}

func newFakeSink() *fakeSink {
	return &fakeSink{objects: make(map[string][]byte)}
}

func (f *fakeSink) PutObject(ctx context.Context, packID, key string, body []byte) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[packID+"/"+key] = body
	return nil
}

func (f *fakeSink) DeletePrefix(ctx context.Context, packID string) error {
	if f.delErr != nil {
		return f.delErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, packID)
	for key := range f.objects {
		if len(key) > len(packID) && key[:len(packID)+1] == packID+"/" {
			delete(f.objects, key)
		}
	}
	return nil
}

func (f *fakeSink) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeSink) Type() string                          { return "fake" }

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type progressEvent struct {
	status  models.DownloadStatus
	percent int
}

// callbackRecorder funnels the async callbacks into channels the test
// can block on.
type callbackRecorder struct {
	progress chan progressEvent
	errs     chan error
}

func newRecorder() *callbackRecorder {
	return &callbackRecorder{
		progress: make(chan progressEvent, 256),
		errs:     make(chan error, 1),
	}
}

func (r *callbackRecorder) onProgress(packID string, status models.DownloadStatus, percent int) {
	r.progress <- progressEvent{status: status, percent: percent}
}

func (r *callbackRecorder) onError(packID string, err error) {
	r.errs <- err
}

// waitTerminal drains progress events until a terminal outcome or timeout.
func (r *callbackRecorder) waitTerminal(t *testing.T) ([]progressEvent, error) {
	t.Helper()
	var events []progressEvent
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-r.progress:
			events = append(events, ev)
			if ev.status == models.StatusComplete {
				return events, nil
			}
		case err := <-r.errs:
			return events, err
		case <-deadline:
			t.Fatal("timed out waiting for a terminal callback")
		}
	}
}

func newTestStore(t *testing.T, db database.Store, sink *fakeSink, tileServerURL string) *Store {
	t.Helper()
	cfg := &config.Config{
		TileURLTemplate:           tileServerURL + "/{z}/{x}/{y}.png",
		MaxConcurrentFetches:      4,
		TileMaxRetries:            1,
		TileRetryDelay:            time.Millisecond,
		TileFetchTimeout:          5 * time.Second,
		CircuitBreakerThreshold:   100,
		CircuitBreakerTimeout:     time.Second,
		CircuitBreakerMaxRequests: 1,
	}
	cb := circuitbreaker.New(fmt.Sprintf("test-%s", t.Name()), cfg, sharedMetrics)
	return New(zap.NewNop(), db, sink, cfg, sharedMetrics, cb)
}

func pointRequest(minZoom, maxZoom int) models.CreateRequest {
	return models.CreateRequest{
		ID:       "pack-1",
		StyleURL: "style://outdoor",
		Bounds:   geo.Bounds{SW: geo.Point{Lat: 47.37, Lng: 8.54}, NE: geo.Point{Lat: 47.37, Lng: 8.54}},
		MinZoom:  minZoom,
		MaxZoom:  maxZoom,
		Metadata: []byte(`{"displayName":"Trailhead"}`),
	}
}

func TestCreatePackDownloadsTiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tile-bytes"))
	}))
	defer srv.Close()

	db := newFakeDB()
	sink := newFakeSink()
	store := newTestStore(t, db, sink, srv.URL)
	rec := newRecorder()

	// Point bounds: exactly one tile per zoom level, 5 tiles total.
	store.CreatePack(context.Background(), pointRequest(0, 4), rec.onProgress, rec.onError)

	events, err := rec.waitTerminal(t)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}

	final := events[len(events)-1]
	if final.status != models.StatusComplete || final.percent != 100 {
		t.Errorf("final event = %+v, want complete at 100", final)
	}

	// Intermediate percentages are strictly increasing and below 100.
	prev := -1
	for _, ev := range events[:len(events)-1] {
		if ev.status != models.StatusActive {
			t.Errorf("intermediate event has status %s", ev.status)
		}
		if ev.percent <= prev && ev.percent != 0 {
			t.Errorf("percent %d did not increase past %d", ev.percent, prev)
		}
		if ev.percent >= 100 {
			t.Errorf("intermediate percent %d, want < 100", ev.percent)
		}
		prev = ev.percent
	}

	if sink.count() != 5 {
		t.Errorf("sink holds %d tiles, want 5", sink.count())
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.records["pack-1"]; !ok {
		t.Error("pack record was not persisted")
	}
	if size := db.sizes["pack-1"]; size != int64(5*len("tile-bytes")) {
		t.Errorf("recorded size = %d, want %d", size, 5*len("tile-bytes"))
	}
}

func TestCreatePackEmptyTileSet(t *testing.T) {
	db := newFakeDB()
	sink := newFakeSink()
	store := newTestStore(t, db, sink, "http://unused.invalid")
	rec := newRecorder()

	// An inverted zoom window enumerates no tiles; the download is
	// trivially complete.
	req := pointRequest(1, 0)
	store.CreatePack(context.Background(), req, rec.onProgress, rec.onError)

	events, err := rec.waitTerminal(t)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	final := events[len(events)-1]
	if final.status != models.StatusComplete || final.percent != 100 {
		t.Errorf("final event = %+v, want complete at 100", final)
	}
	if sink.count() != 0 {
		t.Errorf("sink holds %d tiles, want 0", sink.count())
	}
}

func TestCreatePackTileServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	db := newFakeDB()
	sink := newFakeSink()
	store := newTestStore(t, db, sink, srv.URL)
	rec := newRecorder()

	store.CreatePack(context.Background(), pointRequest(0, 2), rec.onProgress, rec.onError)

	_, err := rec.waitTerminal(t)
	if err == nil {
		t.Fatal("download succeeded, want error")
	}
}

func TestCreatePackRecordFailure(t *testing.T) {
	db := newFakeDB()
	db.putErr = errors.New("db down")
	sink := newFakeSink()
	store := newTestStore(t, db, sink, "http://unused.invalid")
	rec := newRecorder()

	store.CreatePack(context.Background(), pointRequest(0, 2), rec.onProgress, rec.onError)

	_, err := rec.waitTerminal(t)
	if !errors.Is(err, db.putErr) {
		t.Fatalf("error = %v, want the record persistence error", err)
	}
	if sink.count() != 0 {
		t.Errorf("sink holds %d tiles, want 0 when the record was never written", sink.count())
	}
}

func TestDeletePackOrder(t *testing.T) {
	db := newFakeDB()
	sink := newFakeSink()
	store := newTestStore(t, db, sink, "http://unused.invalid")

	ctx := context.Background()
	db.PutRecord(ctx, database.Record{ID: "pack-1"})
	sink.PutObject(ctx, "pack-1", "0/0/0.png", []byte("x"))

	if err := store.DeletePack(ctx, "pack-1"); err != nil {
		t.Fatalf("DeletePack() error = %v", err)
	}
	if len(sink.deleted) != 1 || sink.deleted[0] != "pack-1" {
		t.Errorf("sink.deleted = %v, want [pack-1]", sink.deleted)
	}
	if len(db.deleted) != 1 || db.deleted[0] != "pack-1" {
		t.Errorf("db.deleted = %v, want [pack-1]", db.deleted)
	}
}

func TestDeletePackTileFailureKeepsRecord(t *testing.T) {
	db := newFakeDB()
	sink := newFakeSink()
	sink.delErr = errors.New("storage down")
	store := newTestStore(t, db, sink, "http://unused.invalid")

	ctx := context.Background()
	db.PutRecord(ctx, database.Record{ID: "pack-1"})

	if err := store.DeletePack(ctx, "pack-1"); err == nil {
		t.Fatal("DeletePack() error = nil, want tile deletion error")
	}

	// Tile removal failed, so the record must survive and keep the pack
	// listed.
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.records["pack-1"]; !ok {
		t.Error("record deleted despite tile deletion failure")
	}
}

func TestTileURL(t *testing.T) {
	got := tileURL("https://tiles.example.com/{z}/{x}/{y}.png", geo.Tile{X: 137, Y: 89, Z: 8})
	want := "https://tiles.example.com/8/137/89.png"
	if got != want {
		t.Errorf("tileURL() = %q, want %q", got, want)
	}
}

func TestEnumerateTiles(t *testing.T) {
	pt := geo.Bounds{SW: geo.Point{Lat: 47.37, Lng: 8.54}, NE: geo.Point{Lat: 47.37, Lng: 8.54}}

	tiles := enumerateTiles(pt, 0, 4)
	if len(tiles) != 5 {
		t.Fatalf("enumerateTiles() returned %d tiles, want 5", len(tiles))
	}
	for i, tile := range tiles {
		if tile.Z != i {
			t.Errorf("tile %d has zoom %d, want %d", i, tile.Z, i)
		}
	}

	if got := enumerateTiles(pt, 3, 1); len(got) != 0 {
		t.Errorf("inverted window enumerated %d tiles, want 0", len(got))
	}
}
