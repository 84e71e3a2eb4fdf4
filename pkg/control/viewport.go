package control

import "math"

// epsilon absorbs the float error of the scaling at the picture edges
const epsilon = 1e-9

// Viewport is a video element showing the remote screen scaled to fit
// (letterboxed) into the element box.
type Viewport struct {
	// element box size in local pixels
	Width, Height float64
	// intrinsic size of the video stream
	VideoWidth, VideoHeight int
}

// rect returns the visible video rectangle inside the element.
func (v Viewport) rect() (x, y, w, h float64, ok bool) {
	if v.Width <= 0 || v.Height <= 0 || v.VideoWidth <= 0 || v.VideoHeight <= 0 {
		return 0, 0, 0, 0, false
	}
	vw, vh := float64(v.VideoWidth), float64(v.VideoHeight)
	scale := math.Min(v.Width/vw, v.Height/vh)
	w, h = vw*scale, vh*scale
	return (v.Width - w) / 2, (v.Height - h) / 2, w, h, true
}

// Normalize converts a pointer position relative to the element into
// the (0..1) coordinates of the video picture.
// The positions over the black bars or outside the element are not mapped.
func (v Viewport) Normalize(px, py float64) (nx, ny float64, ok bool) {
	x, y, w, h, ok := v.rect()
	if !ok {
		return 0, 0, false
	}
	nx, ny = (px-x)/w, (py-y)/h
	if nx < -epsilon || nx > 1+epsilon || ny < -epsilon || ny > 1+epsilon {
		return 0, 0, false
	}
	return clamp(nx), clamp(ny), true
}

// ToRemote scales normalized coordinates into the remote screen pixels.
func ToRemote(nx, ny float64, res Resolution) (x, y int) {
	return scale(nx, res.Width), scale(ny, res.Height)
}

func scale(n float64, size int) int { return int(math.Round(clamp(n) * float64(size))) }

func clamp(n float64) float64 { return math.Max(0, math.Min(1, n)) }

// Move builds a mouse move command for the pointer position,
// false when the pointer is off the picture.
func (v Viewport) Move(px, py float64, res Resolution) (MouseMove, bool) {
	nx, ny, ok := v.Normalize(px, py)
	if !ok {
		return MouseMove{}, false
	}
	x, y := ToRemote(nx, ny, res)
	return MouseMove{X: x, Y: y}, true
}
