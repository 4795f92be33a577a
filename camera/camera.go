// Package camera provides the viewer focus used to assign agent LOD tiers.
package camera

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Camera is the viewer's window onto a bounded world.
// The center is kept inside the world; LOD distances are measured from it.
type Camera struct {
	// Center of the view in world coordinates
	X, Y float64

	// Zoom level (1.0 = one world unit per viewport unit)
	Zoom float64

	// Viewport dimensions in screen units
	ViewportW, ViewportH float64

	// World bounds
	MinX, MinY, MaxX, MaxY float64

	// Zoom constraints
	MinZoom, MaxZoom float64
}

// New creates a camera centered on the world bounds with 1:1 zoom.
func New(viewportW, viewportH float64, world r2.Box) *Camera {
	c := &Camera{
		Zoom:      1.0,
		ViewportW: viewportW,
		ViewportH: viewportH,
		MinX:      math.Min(world.Min.X, world.Max.X),
		MinY:      math.Min(world.Min.Y, world.Max.Y),
		MaxX:      math.Max(world.Min.X, world.Max.X),
		MaxY:      math.Max(world.Min.Y, world.Max.Y),
		MaxZoom:   8.0,
	}
	c.MinZoom = c.fitZoom()
	c.Reset()
	return c
}

// fitZoom is the smallest zoom at which the view does not exceed the world.
func (c *Camera) fitZoom() float64 {
	w, h := c.MaxX-c.MinX, c.MaxY-c.MinY
	if w <= 0 || h <= 0 {
		return 1
	}
	return math.Max(c.ViewportW/w, c.ViewportH/h)
}

// Focus returns the view center.
func (c *Camera) Focus() r2.Vec {
	return r2.Vec{X: c.X, Y: c.Y}
}

// DistanceTo returns the world distance from the view center to p.
func (c *Camera) DistanceTo(p r2.Vec) float64 {
	return math.Hypot(p.X-c.X, p.Y-c.Y)
}

// WorldToScreen converts world coordinates to screen coordinates.
func (c *Camera) WorldToScreen(wx, wy float64) (sx, sy float64) {
	sx = c.ViewportW/2 + (wx-c.X)*c.Zoom
	sy = c.ViewportH/2 + (wy-c.Y)*c.Zoom
	return sx, sy
}

// ScreenToWorld converts screen coordinates to world coordinates.
func (c *Camera) ScreenToWorld(sx, sy float64) (wx, wy float64) {
	wx = c.X + (sx-c.ViewportW/2)/c.Zoom
	wy = c.Y + (sy-c.ViewportH/2)/c.Zoom
	return wx, wy
}

// IsVisible returns true if a circle at (wx, wy) with given radius
// could be visible on screen (conservative check for culling).
func (c *Camera) IsVisible(wx, wy, radius float64) bool {
	halfW := c.ViewportW/(2*c.Zoom) + radius
	halfH := c.ViewportH/(2*c.Zoom) + radius
	return math.Abs(wx-c.X) <= halfW && math.Abs(wy-c.Y) <= halfH
}

// Resize updates viewport dimensions and recalculates zoom constraints.
func (c *Camera) Resize(viewportW, viewportH float64) {
	if viewportW == c.ViewportW && viewportH == c.ViewportH {
		return
	}
	c.ViewportW = viewportW
	c.ViewportH = viewportH
	c.MinZoom = c.fitZoom()
	if c.Zoom < c.MinZoom {
		c.Zoom = c.MinZoom
	}
}

// Pan moves the camera by the given delta in screen units, staying inside the world.
func (c *Camera) Pan(dx, dy float64) {
	c.MoveTo(c.X+dx/c.Zoom, c.Y+dy/c.Zoom)
}

// MoveTo centers the view on a world point, clamped to the world bounds.
func (c *Camera) MoveTo(wx, wy float64) {
	c.X = clamp(wx, c.MinX, c.MaxX)
	c.Y = clamp(wy, c.MinY, c.MaxY)
}

// SetZoom sets the zoom level, clamped to min/max.
func (c *Camera) SetZoom(zoom float64) {
	c.Zoom = clamp(zoom, c.MinZoom, c.MaxZoom)
}

// ZoomBy multiplies the current zoom by the given factor.
func (c *Camera) ZoomBy(factor float64) {
	c.SetZoom(c.Zoom * factor)
}

// Reset returns the camera to the world center at 1:1 zoom.
func (c *Camera) Reset() {
	c.X = (c.MinX + c.MaxX) / 2
	c.Y = (c.MinY + c.MaxY) / 2
	c.Zoom = clamp(1.0, c.MinZoom, c.MaxZoom)
}

// VisibleWorldBounds returns the world-coordinate bounds of the visible area.
func (c *Camera) VisibleWorldBounds() r2.Box {
	halfW := c.ViewportW / (2 * c.Zoom)
	halfH := c.ViewportH / (2 * c.Zoom)
	return r2.Box{
		Min: r2.Vec{X: c.X - halfW, Y: c.Y - halfH},
		Max: r2.Vec{X: c.X + halfW, Y: c.Y + halfH},
	}
}

// clamp restricts a value to a range.
func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
