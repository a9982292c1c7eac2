package camera

import (
	"math"

	"camstream/internal/core/domain"
)

// DefaultToneCurvePoints is the number of samples in a generated tone curve.
const DefaultToneCurvePoints = 64

// focusRegionFraction is the half-size of the focus metering rectangle
// relative to the active array.
const focusRegionFraction = 0.1

// CropRegion returns the sensor crop for a zoom level, centered on the active
// array. The zoom is clamped to [1, maxZoom].
func CropRegion(active domain.Rect, zoom, maxZoom float64) (domain.Rect, bool) {
	if maxZoom < 1 || active.Width() <= 0 || active.Height() <= 0 {
		return domain.Rect{}, false
	}
	zoom = math.Max(1, math.Min(zoom, maxZoom))

	cx := active.Left + active.Width()/2
	cy := active.Top + active.Height()/2
	dx := int(float64(active.Width()) / (2 * zoom))
	dy := int(float64(active.Height()) / (2 * zoom))
	return domain.Rect{Left: cx - dx, Top: cy - dy, Right: cx + dx, Bottom: cy + dy}, true
}

// Sensitivity maps an ISO percent onto the sensor sensitivity range.
func Sensitivity(r domain.IntRange, percent int) (int, bool) {
	if !r.Valid() {
		return 0, false
	}
	p := clampPercent(float64(percent), 0, 100)
	return r.Lower + int(math.Round(float64(r.Upper-r.Lower)*p/100)), true
}

// ExposureTime maps a shutter preset onto an exposure time in nanoseconds.
// AUTO has no fixed exposure time and reports false.
//
// Fast presets double up from the lower bound (1/4000 = Lower, 1/30 =
// Lower*128) and slow presets halve down from the upper bound (30s = Upper,
// 1/15 = Upper/256). 1/8 is the exception: it continues the lower-bound
// ladder at Lower*256, so on sensors with a wide range it is shorter than
// 1/15. Deployed cameras are calibrated against this table, so it is kept.
func ExposureTime(r domain.Int64Range, s domain.ShutterSpeed) (int64, bool) {
	if s == domain.ShutterAuto || !r.Valid() {
		return 0, false
	}

	var t int64
	switch s {
	case domain.Shutter1_4000:
		t = r.Lower
	case domain.Shutter1_2000:
		t = r.Lower * 2
	case domain.Shutter1_1000:
		t = r.Lower * 4
	case domain.Shutter1_500:
		t = r.Lower * 8
	case domain.Shutter1_250:
		t = r.Lower * 16
	case domain.Shutter1_125:
		t = r.Lower * 32
	case domain.Shutter1_60:
		t = r.Lower * 64
	case domain.Shutter1_30:
		t = r.Lower * 128
	case domain.Shutter1_15:
		t = r.Upper / 256
	case domain.Shutter1_8:
		t = r.Lower * 256 // lower-bound ladder, see above
	case domain.Shutter1_4:
		t = r.Upper / 128
	case domain.Shutter1_2:
		t = r.Upper / 64
	case domain.Shutter1:
		t = r.Upper / 32
	case domain.Shutter2:
		t = r.Upper / 16
	case domain.Shutter4:
		t = r.Upper / 8
	case domain.Shutter8:
		t = r.Upper / 4
	case domain.Shutter15:
		t = r.Upper / 2
	case domain.Shutter30:
		t = r.Upper
	default:
		t = r.Upper / 256
	}

	if t < r.Lower {
		t = r.Lower
	}
	if t > r.Upper {
		t = r.Upper
	}
	return t, true
}

// AECompensation maps a signed percent onto auto-exposure compensation steps.
// Positive percents scale the upper bound, negative ones the lower bound.
func AECompensation(r domain.IntRange, percent int) (int, bool) {
	if !r.Valid() || r.Lower > 0 || r.Upper < 0 {
		return 0, false
	}
	p := clampPercent(float64(percent), -100, 100)
	if p >= 0 {
		return int(math.Round(float64(r.Upper) * p / 100)), true
	}
	return int(math.Round(float64(r.Lower) * -p / 100)), true
}

// FocusDistance maps a focus percent onto a lens focus distance in diopters.
// A zero minimum focus distance means a fixed-focus lens.
func FocusDistance(minDiopters, percent float64) (float64, bool) {
	if minDiopters <= 0 {
		return 0, false
	}
	return minDiopters * clampPercent(percent, 0, 100) / 100, true
}

// FocusRegion returns the metering rectangle used with a manual focus
// position. It sits on the diagonal of the active array at percent.
func FocusRegion(active domain.Rect, percent float64) domain.MeteringRect {
	p := clampPercent(percent, 0, 100)
	x := active.Left + int(float64(active.Width())*p/100)
	y := active.Top + int(float64(active.Height())*p/100)
	hw := int(float64(active.Width()) * focusRegionFraction)
	hh := int(float64(active.Height()) * focusRegionFraction)

	rect := domain.Rect{
		Left:   max(active.Left, x-hw),
		Top:    max(active.Top, y-hh),
		Right:  min(active.Right, x+hw),
		Bottom: min(active.Bottom, y+hh),
	}
	return domain.MeteringRect{Rect: rect, Weight: domain.MeteringWeightMax}
}

// ColorGains maps manual white balance onto an RGGB vector clamped to the
// hardware gain range.
func ColorGains(wb domain.WhiteBalance, lo, hi float64) (domain.RGGBGains, bool) {
	if hi <= lo || lo < 0 {
		return domain.RGGBGains{}, false
	}
	g := clampPercent(wb.Green, lo, hi)
	return domain.RGGBGains{
		Red:       clampPercent(wb.Red, lo, hi),
		GreenEven: g,
		GreenOdd:  g,
		Blue:      clampPercent(wb.Blue, lo, hi),
	}, true
}

// ToneCurve samples a gamma/contrast curve at n evenly spaced inputs. Every
// output lies in [0, 1].
func ToneCurve(gamma, contrast float64, n int) ([]float64, bool) {
	if n < 2 {
		return nil, false
	}
	if gamma <= 0 {
		gamma = 1
	}
	if contrast <= 0 {
		contrast = 1
	}

	curve := make([]float64, n)
	for i := range curve {
		x := float64(i) / float64(n-1)
		y := math.Pow(x, 1/gamma)
		y = (y-0.5)*contrast + 0.5
		curve[i] = clampPercent(y, 0, 1)
	}
	return curve, true
}

func clampPercent(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
