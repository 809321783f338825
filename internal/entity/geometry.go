package entity

// BBox is an axis-aligned rectangle in page-pixel coordinates. X,Y is the
// top-left corner; the origin is the top-left of the rasterized page.
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Empty reports whether the box has no area.
func (b BBox) Empty() bool {
	return b.W <= 0 || b.H <= 0
}

// Union returns the smallest box covering both b and o. Empty operands are
// ignored so a zero BBox is a usable accumulator seed.
func (b BBox) Union(o BBox) BBox {
	if b.Empty() {
		return o
	}
	if o.Empty() {
		return b
	}
	x0 := min(b.X, o.X)
	y0 := min(b.Y, o.Y)
	x1 := max(b.X+b.W, o.X+o.W)
	y1 := max(b.Y+b.H, o.Y+o.H)
	return BBox{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// CenterY returns the vertical midpoint, used for row clustering.
func (b BBox) CenterY() int {
	return b.Y + b.H/2
}
