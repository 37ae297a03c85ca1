// Package coordinator drives the single-flight pack download state
// machine: Idle -> Requesting -> Downloading -> {Completed, Failed} ->
// Idle. At most one download session exists per process; a second
// request is rejected synchronously while one is in flight.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tilevault/internal/geo"
	"tilevault/internal/metadata"
	"tilevault/internal/metrics"
	"tilevault/internal/models"
	"tilevault/internal/offline"
)

// State is a download session state
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateDownloading
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateDownloading:
		return "downloading"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one step of a download session's lifecycle. Exactly one
// terminal event (Completed or Failed) is published per session, after
// which the channel is closed.
type Event struct {
	State    State
	Fraction float64 // 0.0-1.0, non-decreasing until a Failed event resets it
	Label    string  // display label, set on Completed
	Err      error   // set on Failed
}

// Snapshot is a point-in-time view of the coordinator for polling.
type Snapshot struct {
	State    State   `json:"state"`
	Fraction float64 `json:"fraction"`
	PackID   string  `json:"pack_id,omitempty"`
}

// PackCreator is the slice of the storage layer the coordinator needs.
type PackCreator interface {
	CreatePack(ctx context.Context, req models.CreateRequest, onProgress offline.ProgressFunc, onError offline.ErrorFunc)
}

// Progress callbacks never exceed one event per percentage step plus
// one terminal, so a session's channel never blocks at this size.
const eventBuffer = 128

type session struct {
	packID   string
	label    string
	state    State
	fraction float64
	terminal bool
	events   chan Event
}

// Coordinator owns the single active download session.
type Coordinator struct {
	logger  *zap.Logger
	store   PackCreator
	metrics *metrics.Metrics

	// overridable for tests
	now   func() time.Time
	newID func() string

	mu  sync.Mutex
	cur *session
}

// New creates a new download coordinator
func New(logger *zap.Logger, store PackCreator, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		logger:  logger,
		store:   store,
		metrics: m,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Request starts downloading a region as a new pack. It fails fast
// with models.ErrDownloadInProgress while another session is active;
// the check-and-set is atomic under the coordinator lock, so two
// concurrent calls can never both be accepted. On acceptance it
// returns the new pack id and the session's event stream.
func (c *Coordinator) Request(ctx context.Context, region geo.RegionRequest) (string, <-chan Event, error) {
	if err := region.Validate(); err != nil {
		return "", nil, fmt.Errorf("invalid region: %w", err)
	}

	c.mu.Lock()
	if c.cur != nil {
		c.mu.Unlock()
		c.metrics.DownloadsTotal.WithLabelValues("rejected").Inc()
		return "", nil, models.ErrDownloadInProgress
	}

	now := c.now()
	downloadedAt := now.UnixMilli()
	meta := models.PackMetadata{
		DisplayName:             "Offline pack " + now.Format("Jan 2, 2006 15:04"),
		DownloadedAtEpochMillis: &downloadedAt,
	}

	sess := &session{
		packID: c.newID(),
		label:  meta.DisplayName,
		state:  StateRequesting,
		events: make(chan Event, eventBuffer),
	}
	c.cur = sess
	c.metrics.ActiveDownloads.Set(1)
	c.metrics.DownloadProgress.Set(0)
	c.mu.Unlock()

	req := models.CreateRequest{
		ID:       sess.packID,
		StyleURL: region.StyleURL,
		Bounds:   region.Bounds,
		MinZoom:  region.MinZoom,
		MaxZoom:  region.MaxZoom,
		Metadata: metadata.Encode(meta),
	}

	c.logger.Info("pack download requested",
		zap.String("id", sess.packID),
		zap.Int("min_zoom", region.MinZoom),
		zap.Int("max_zoom", region.MaxZoom))

	c.store.CreatePack(ctx,
		req,
		func(packID string, status models.DownloadStatus, percent int) {
			c.handleProgress(sess, status, percent)
		},
		func(packID string, err error) {
			c.handleError(sess, err)
		},
	)

	return sess.packID, sess.events, nil
}

// Snapshot returns the current session state, or an idle snapshot when
// no download is active.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return Snapshot{State: StateIdle}
	}
	return Snapshot{State: c.cur.state, Fraction: c.cur.fraction, PackID: c.cur.packID}
}

// handleProgress maps a store percentage to a published fraction. The
// published sequence is non-decreasing: a regressing percentage is
// clamped to the last published value. A Complete status forces the
// fraction to exactly 1.0 and ends the session.
func (c *Coordinator) handleProgress(sess *session, status models.DownloadStatus, percent int) {
	c.mu.Lock()
	if sess.terminal || c.cur != sess {
		c.mu.Unlock()
		return
	}

	// First callback acknowledges the create request.
	if sess.state == StateRequesting {
		sess.state = StateDownloading
	}

	fraction := float64(percent) / 100.0
	if fraction < sess.fraction {
		fraction = sess.fraction
	}
	if fraction > 1.0 {
		fraction = 1.0
	}

	event := Event{State: StateDownloading, Fraction: fraction}
	if status == models.StatusComplete {
		fraction = 1.0
		sess.state = StateCompleted
		sess.terminal = true
		event = Event{State: StateCompleted, Fraction: 1.0, Label: sess.label}
	}
	sess.fraction = fraction
	c.metrics.DownloadProgress.Set(fraction)

	sess.events <- event

	if sess.terminal {
		close(sess.events)
		c.cur = nil
		c.metrics.ActiveDownloads.Set(0)
		c.metrics.DownloadsTotal.WithLabelValues("completed").Inc()
		c.logger.Info("pack download completed", zap.String("id", sess.packID), zap.String("label", sess.label))
	}
	c.mu.Unlock()
}

// handleError forces the session to Failed regardless of its current
// state, resets the published fraction to zero, and returns the
// coordinator to Idle. Only the first terminal transition wins.
func (c *Coordinator) handleError(sess *session, err error) {
	c.mu.Lock()
	if sess.terminal || c.cur != sess {
		c.mu.Unlock()
		return
	}

	sess.state = StateFailed
	sess.terminal = true
	sess.fraction = 0
	c.metrics.DownloadProgress.Set(0)

	sess.events <- Event{State: StateFailed, Err: fmt.Errorf("%w: %v", models.ErrDownloadFailed, err)}
	close(sess.events)

	c.cur = nil
	c.metrics.ActiveDownloads.Set(0)
	c.metrics.DownloadsTotal.WithLabelValues("failed").Inc()
	c.logger.Warn("pack download failed", zap.String("id", sess.packID), zap.Error(err))
	c.mu.Unlock()
}
