package control

import (
	"math"
	"testing"
)

func TestToRemote(t *testing.T) {
	res := Resolution{Width: 1920, Height: 1080}
	tests := []struct {
		nx, ny float64
		x, y   int
	}{
		{0, 0, 0, 0},
		{1, 1, 1920, 1080},
		{0.5, 0.5, 960, 540},
		{0.25, 0.75, 480, 810},
		{0.00026, 0.00046, 0, 0},
		{-0.1, 1.2, 0, 1080},
	}
	for _, test := range tests {
		x, y := ToRemote(test.nx, test.ny, res)
		if x != test.x || y != test.y {
			t.Errorf("(%v, %v): got (%v, %v), want (%v, %v)", test.nx, test.ny, x, y, test.x, test.y)
		}
	}
}

func TestViewportLetterbox(t *testing.T) {
	// 16:9 video in a 1000x1000 box: 1000x562.5 picture with bars on top and bottom
	v := Viewport{Width: 1000, Height: 1000, VideoWidth: 1920, VideoHeight: 1080}
	top := (1000 - 562.5) / 2

	tests := []struct {
		name   string
		px, py float64
		nx, ny float64
		ok     bool
	}{
		{name: "top left", px: 0, py: top, nx: 0, ny: 0, ok: true},
		{name: "bottom right", px: 1000, py: top + 562.5, nx: 1, ny: 1, ok: true},
		{name: "center", px: 500, py: 500, nx: 0.5, ny: 0.5, ok: true},
		{name: "top bar", px: 500, py: top - 1},
		{name: "bottom bar", px: 500, py: top + 563},
		{name: "outside", px: -1, py: 500},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			nx, ny, ok := v.Normalize(test.px, test.py)
			if ok != test.ok {
				t.Fatalf("got ok=%v", ok)
			}
			if ok && (math.Abs(nx-test.nx) > 1e-9 || math.Abs(ny-test.ny) > 1e-9) {
				t.Errorf("got (%v, %v), want (%v, %v)", nx, ny, test.nx, test.ny)
			}
		})
	}
}

func TestViewportPillarbox(t *testing.T) {
	// 4:3 video in a 16:9 box: bars on the sides
	v := Viewport{Width: 1600, Height: 900, VideoWidth: 1024, VideoHeight: 768}
	res := Resolution{Width: 1024, Height: 768}

	if _, ok := v.Move(100, 450, res); ok {
		t.Errorf("left bar must not be mapped")
	}
	m, ok := v.Move(800, 450, res)
	if !ok || m != (MouseMove{X: 512, Y: 384}) {
		t.Errorf("center: got %+v %v", m, ok)
	}
	m, ok = v.Move(200, 0, res)
	if !ok || m != (MouseMove{X: 0, Y: 0}) {
		t.Errorf("corner: got %+v %v", m, ok)
	}
}

func TestViewportUnknownVideo(t *testing.T) {
	v := Viewport{Width: 800, Height: 600}
	if _, _, ok := v.Normalize(400, 300); ok {
		t.Errorf("no video size, nothing to map")
	}
}
