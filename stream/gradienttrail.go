package stream

import (
	"math"
)

// A GradientTrail renders a gradient that scrolls horizontally across a frame.
type GradientTrail struct {
	gradient    GradientTable
	current     float64
	trailLength int
	speed       float64
	chroma      float64
	luminance   float64
}

// NewGradientTrail creates an instance of a GradientTrail object.
func NewGradientTrail(gradient GradientTable, trailLength int, speed float64) *GradientTrail {
	g := new(GradientTrail)
	g.gradient = gradient
	g.trailLength = trailLength
	g.speed = speed
	g.chroma = 0.6
	g.luminance = 0.7
	g.current = 0

	return g
}

// Render draws the next frame into dst, a [C, H, W] buffer, in the signed
// normalized range [-1, 1]. hueShift rotates the gradient, brightness scales it.
func (g *GradientTrail) Render(dst []float32, channels, height, width int, hueShift, brightness float64) {
	row := make([]float32, width*channels)
	for x := 0; x < width; x++ {
		t := math.Mod(float64(x+g.trailLength)-g.current, float64(g.trailLength)) / float64(g.trailLength)
		c := g.gradient.GetColor(t, g.chroma, g.luminance, hueShift).Clamped()
		if channels == 1 {
			_, _, l := c.Hcl()
			row[x] = float32(l*brightness*2 - 1)
			continue
		}
		row[x*channels] = float32(c.R*brightness*2 - 1)
		row[x*channels+1] = float32(c.G*brightness*2 - 1)
		row[x*channels+2] = float32(c.B*brightness*2 - 1)
	}

	for ch := 0; ch < channels; ch++ {
		plane := dst[ch*height*width : (ch+1)*height*width]
		for y := 0; y < height; y++ {
			line := plane[y*width : (y+1)*width]
			for x := range line {
				line[x] = row[x*channels+ch]
			}
		}
	}

	g.current += g.speed
	g.current = math.Mod(g.current, float64(g.trailLength))
}
