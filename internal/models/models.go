package models

import "tilevault/internal/geo"

// PackMetadata is the user-facing identity of a pack. It is created at
// request time, serialized into the opaque blob handed to the record
// store, and reconstructed on every catalog read.
type PackMetadata struct {
	DisplayName             string `json:"displayName"`
	DownloadedAtEpochMillis *int64 `json:"downloadedAtEpochMillis,omitempty"`
}

// RawPackRecord is a pack entry as handed back by the record store.
// Metadata is opaque: depending on the engine and what it did to the
// blob it may come back as a string, a structured object, or a
// numeric-index character map. Fields carries implementation-defined
// extras (size hints, timestamps) that vary across store versions.
type RawPackRecord struct {
	ID       string         `json:"id"`
	StyleURL string         `json:"style_url,omitempty"`
	Bounds   geo.Bounds     `json:"bounds"`
	MinZoom  int            `json:"min_zoom"`
	MaxZoom  int            `json:"max_zoom"`
	Metadata any            `json:"metadata,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Pack is the normalized read-only view handed to callers. A fresh
// list is built on every catalog fetch; entries are never mutated in
// place.
type Pack struct {
	ID                 string       `json:"id"`
	Bounds             geo.Bounds   `json:"bounds"`
	Metadata           PackMetadata `json:"metadata"`
	EstimatedSizeBytes *int64       `json:"estimated_size_bytes,omitempty"`
}

// CreateRequest is the pack creation order issued to the store.
type CreateRequest struct {
	ID       string
	StyleURL string
	Bounds   geo.Bounds
	MinZoom  int
	MaxZoom  int
	Metadata []byte // opaque blob from the metadata codec
}

// DownloadStatus is the store-reported status accompanying progress
// callbacks. StatusComplete is terminal.
type DownloadStatus int

const (
	StatusActive DownloadStatus = iota
	StatusComplete
)

func (s DownloadStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusComplete:
		return "complete"
	default:
		return "unknown"
	}
}
