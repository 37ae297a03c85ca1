package geo

import (
	"fmt"
	"math"
)

// Zoom window limits for offline packs. Tile counts grow 4x per zoom
// level, so the ceiling keeps worst-case pack sizes bounded.
const (
	MinSupportedZoom = 0
	MaxSupportedZoom = 16

	// Offsets applied around the observed viewport zoom when deriving
	// a pack's zoom window.
	viewportZoomBelow = 2
	viewportZoomAbove = 3
)

// Point is a geographic coordinate (WGS 84).
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bounds is a rectangular geographic bounding box. SW/NE are kept
// normalized: SW.Lat <= NE.Lat and SW.Lng <= NE.Lng.
type Bounds struct {
	SW Point `json:"sw"`
	NE Point `json:"ne"`
}

// NewBounds builds a normalized Bounds from two opposite corners in
// any order.
func NewBounds(a, b Point) Bounds {
	return Bounds{
		SW: Point{Lat: math.Min(a.Lat, b.Lat), Lng: math.Min(a.Lng, b.Lng)},
		NE: Point{Lat: math.Max(a.Lat, b.Lat), Lng: math.Max(a.Lng, b.Lng)},
	}
}

// Validate checks that the bounds describe a real rectangle on the globe.
func (b Bounds) Validate() error {
	if b.SW.Lat < -90 || b.NE.Lat > 90 {
		return fmt.Errorf("latitude out of range: [%f, %f]", b.SW.Lat, b.NE.Lat)
	}
	if b.SW.Lng < -180 || b.NE.Lng > 180 {
		return fmt.Errorf("longitude out of range: [%f, %f]", b.SW.Lng, b.NE.Lng)
	}
	if b.SW.Lat > b.NE.Lat || b.SW.Lng > b.NE.Lng {
		return fmt.Errorf("bounds not normalized: sw=%v ne=%v", b.SW, b.NE)
	}
	return nil
}

// RegionRequest describes a rectangular region to download: bounds, an
// inclusive zoom window and the map style to render it with. It is
// consumed once, at pack creation.
type RegionRequest struct {
	Bounds   Bounds
	MinZoom  int
	MaxZoom  int
	StyleURL string
}

// Validate checks the request is well-formed after clamping.
func (r RegionRequest) Validate() error {
	if err := r.Bounds.Validate(); err != nil {
		return err
	}
	if r.MinZoom < MinSupportedZoom || r.MaxZoom > MaxSupportedZoom {
		return fmt.Errorf("zoom window [%d, %d] outside supported [%d, %d]",
			r.MinZoom, r.MaxZoom, MinSupportedZoom, MaxSupportedZoom)
	}
	if r.MinZoom > r.MaxZoom {
		return fmt.Errorf("min zoom %d above max zoom %d", r.MinZoom, r.MaxZoom)
	}
	return nil
}

// RegionFromViewport derives a pack request from the current viewport:
// the zoom window is biased -2/+3 around the observed viewport zoom and
// clamped to the supported range.
func RegionFromViewport(bounds Bounds, viewportZoom float64, styleURL string) RegionRequest {
	zoom := int(math.Round(viewportZoom))
	return RegionRequest{
		Bounds:   bounds,
		MinZoom:  ClampZoom(zoom - viewportZoomBelow),
		MaxZoom:  ClampZoom(zoom + viewportZoomAbove),
		StyleURL: styleURL,
	}
}

// ClampZoom clamps z into the supported zoom range.
func ClampZoom(z int) int {
	if z < MinSupportedZoom {
		return MinSupportedZoom
	}
	if z > MaxSupportedZoom {
		return MaxSupportedZoom
	}
	return z
}

// Tile is an XYZ (slippy map) tile coordinate.
type Tile struct {
	X, Y, Z int
}

// TileRange is the inclusive tile rectangle covering a bounds at one
// zoom level.
type TileRange struct {
	Z                      int
	MinX, MaxX, MinY, MaxY int
}

// Count returns the number of tiles in the range.
func (r TileRange) Count() int64 {
	return int64(r.MaxX-r.MinX+1) * int64(r.MaxY-r.MinY+1)
}

// RangeAt computes the tile rectangle covering the bounds at zoom z
// using web-mercator tile math.
func RangeAt(b Bounds, z int) TileRange {
	minX, maxY := tileAt(b.SW.Lat, b.SW.Lng, z)
	maxX, minY := tileAt(b.NE.Lat, b.NE.Lng, z)
	return TileRange{Z: z, MinX: minX, MaxX: maxX, MinY: minY, MaxY: maxY}
}

// TileCount returns the total number of tiles covering the bounds over
// the inclusive zoom window. Progress percentages depend on this being
// exact.
func TileCount(b Bounds, minZoom, maxZoom int) int64 {
	var total int64
	for z := minZoom; z <= maxZoom; z++ {
		total += RangeAt(b, z).Count()
	}
	return total
}

// tileAt converts a lat/lng to tile coordinates at zoom z. Latitudes
// beyond the web-mercator limit clamp to the edge tiles.
func tileAt(lat, lng float64, z int) (x, y int) {
	n := float64(int64(1) << uint(z))
	x = int(math.Floor((lng + 180.0) / 360.0 * n))
	latRad := lat * math.Pi / 180.0
	y = int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))
	max := int(n) - 1
	if x < 0 {
		x = 0
	} else if x > max {
		x = max
	}
	if y < 0 {
		y = 0
	} else if y > max {
		y = max
	}
	return x, y
}
