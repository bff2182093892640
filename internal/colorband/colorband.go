// Package colorband provides the static HSV color tables used across the
// pipeline and pure set-membership tests over them. Bands are axis-aligned
// inclusive boxes in OpenCV HSV space (H 0-180, S/V 0-255); hue bands that
// wrap past the red boundary are expressed as two boxes under one name.
package colorband

import (
	"gocv.io/x/gocv"
)

// Box is one inclusive HSV range.
type Box struct {
	LoH, LoS, LoV float64
	HiH, HiS, HiV float64
}

// Contains reports whether the HSV triple falls inside the box.
func (b Box) Contains(h, s, v float64) bool {
	return h >= b.LoH && h <= b.HiH &&
		s >= b.LoS && s <= b.HiS &&
		v >= b.LoV && v <= b.HiV
}

// Band is a named union of HSV boxes.
type Band struct {
	Name  string
	Boxes []Box
}

// Contains reports whether the HSV triple falls inside any box of the band.
func (b Band) Contains(h, s, v float64) bool {
	for _, box := range b.Boxes {
		if box.Contains(h, s, v) {
			return true
		}
	}
	return false
}

// Band names.
const (
	TalisayGreen  = "talisay_green"
	TalisayYellow = "talisay_yellow"
	TalisayBrown  = "talisay_brown"

	// Wider variants used for initial segmentation, where background bleed
	// matters less than missing fruit pixels.
	WideGreen  = "wide_green"
	WideYellow = "wide_yellow"
	WideBrown  = "wide_brown"

	// LooseYellow relaxes the saturation and value floors further for the
	// measurement path, where the region is already known to be fruit.
	LooseYellow = "loose_yellow"

	// Capsicum (siling) signature colors.
	SilingGreen = "siling_green"
	SilingRed   = "siling_red"

	// Rejection bands for objects that are never Talisay.
	RedFruit    = "red_fruit"
	OrangeFruit = "orange_fruit"
	PinkFruit   = "pink_fruit"
	PurpleFruit = "purple_fruit"
	BlueObject  = "blue_object"
	WhiteObject = "bright_white_object"
	DarkObject  = "very_dark_object"

	// Human skin in HSV; combined with the YCrCb gate in SkinMask.
	SkinHSV = "skin_hsv"
)

// bands is the calibrated color table. Immutable after init.
var bands = map[string]Band{
	TalisayGreen:  {TalisayGreen, []Box{{30, 35, 35, 80, 255, 245}}},
	TalisayYellow: {TalisayYellow, []Box{{18, 60, 70, 38, 255, 255}}},
	TalisayBrown:  {TalisayBrown, []Box{{5, 30, 20, 26, 220, 200}}},

	WideGreen:  {WideGreen, []Box{{25, 30, 30, 90, 255, 255}}},
	WideYellow: {WideYellow, []Box{{15, 60, 60, 35, 255, 255}}},
	WideBrown:  {WideBrown, []Box{{5, 30, 30, 25, 200, 200}}},

	LooseYellow: {LooseYellow, []Box{{15, 50, 50, 35, 255, 255}}},

	SilingGreen: {SilingGreen, []Box{{30, 60, 50, 85, 255, 255}}},
	SilingRed: {SilingRed, []Box{
		{0, 100, 70, 12, 255, 255},
		{160, 100, 70, 180, 255, 255},
	}},

	RedFruit: {RedFruit, []Box{
		{0, 90, 60, 10, 255, 255},
		{160, 90, 60, 180, 255, 255},
	}},
	OrangeFruit: {OrangeFruit, []Box{{10, 100, 100, 22, 255, 255}}},
	PinkFruit:   {PinkFruit, []Box{{140, 30, 140, 172, 160, 255}}},
	PurpleFruit: {PurpleFruit, []Box{{120, 40, 40, 158, 255, 255}}},
	BlueObject:  {BlueObject, []Box{{95, 50, 50, 130, 255, 255}}},
	WhiteObject: {WhiteObject, []Box{{0, 0, 220, 180, 35, 255}}},
	DarkObject:  {DarkObject, []Box{{0, 0, 0, 180, 255, 20}}},

	SkinHSV: {SkinHSV, []Box{{0, 20, 70, 25, 170, 255}}},
}

// RejectionBands lists the non-Talisay bands with their user-facing labels,
// in evaluation order.
var RejectionBands = []struct {
	Name  string
	Label string
}{
	{RedFruit, "red fruit (apple, tomato, red pepper)"},
	{OrangeFruit, "orange fruit (orange, tangerine)"},
	{PinkFruit, "pink/magenta fruit (dragon fruit)"},
	{PurpleFruit, "purple fruit (grape, mangosteen)"},
	{BlueObject, "blue object"},
	{WhiteObject, "white/bright object (paper, screen)"},
	{DarkObject, "very dark object (dark screen)"},
}

// Get returns the named band. Panics on unknown names; band names are
// compile-time constants, not user input.
func Get(name string) Band {
	b, ok := bands[name]
	if !ok {
		panic("colorband: unknown band " + name)
	}
	return b
}

// Mask returns the binary mask of pixels in hsv that fall inside the named
// band. The caller owns the returned Mat. An empty input yields an empty
// mask.
func Mask(hsv gocv.Mat, name string) gocv.Mat {
	band := Get(name)
	out := gocv.NewMat()
	if hsv.Empty() {
		return out
	}

	for i, box := range band.Boxes {
		lo := gocv.NewScalar(box.LoH, box.LoS, box.LoV, 0)
		hi := gocv.NewScalar(box.HiH, box.HiS, box.HiV, 0)
		if i == 0 {
			gocv.InRangeWithScalar(hsv, lo, hi, &out)
			continue
		}
		part := gocv.NewMat()
		gocv.InRangeWithScalar(hsv, lo, hi, &part)
		gocv.BitwiseOr(out, part, &out)
		part.Close()
	}
	return out
}

// UnionMask returns the mask of pixels matching any of the named bands.
func UnionMask(hsv gocv.Mat, names ...string) gocv.Mat {
	out := gocv.NewMat()
	for i, name := range names {
		m := Mask(hsv, name)
		if i == 0 {
			out.Close()
			out = m
			continue
		}
		gocv.BitwiseOr(out, m, &out)
		m.Close()
	}
	return out
}

// Coverage returns the fraction of all pixels in hsv that match the band.
// Zero-pixel input returns 0.0.
func Coverage(hsv gocv.Mat, name string) float64 {
	total := hsv.Rows() * hsv.Cols()
	if total == 0 {
		return 0
	}
	m := Mask(hsv, name)
	defer m.Close()
	return float64(gocv.CountNonZero(m)) / float64(total)
}

// CoverageWithin returns the fraction of foreground pixels of region that
// match the band. Empty regions return 0.0.
func CoverageWithin(hsv gocv.Mat, region gocv.Mat, name string) float64 {
	regionArea := gocv.CountNonZero(region)
	if regionArea == 0 {
		return 0
	}
	m := Mask(hsv, name)
	defer m.Close()
	both := gocv.NewMat()
	defer both.Close()
	gocv.BitwiseAnd(m, region, &both)
	return float64(gocv.CountNonZero(both)) / float64(regionArea)
}

// SkinMask builds the combined skin mask: the HSV skin band intersected with
// the YCrCb skin gate. Both conditions must hold, which keeps wood and brown
// fruit out of the skin estimate. The caller owns the returned Mat.
func SkinMask(hsv, ycrcb gocv.Mat) gocv.Mat {
	hsvMask := Mask(hsv, SkinHSV)
	defer hsvMask.Close()

	ycrcbMask := gocv.NewMat()
	defer ycrcbMask.Close()
	lo := gocv.NewScalar(80, 133, 77, 0)
	hi := gocv.NewScalar(255, 173, 127, 0)
	gocv.InRangeWithScalar(ycrcb, lo, hi, &ycrcbMask)

	out := gocv.NewMat()
	gocv.BitwiseAnd(hsvMask, ycrcbMask, &out)
	return out
}
