package domain

import "fmt"

// Resolution is the encoded video frame size in pixels.
type Resolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ShutterSpeed is either AUTO or one of the fixed exposure-time presets.
type ShutterSpeed string

const (
	ShutterAuto   ShutterSpeed = "AUTO"
	Shutter1_4000 ShutterSpeed = "1/4000"
	Shutter1_2000 ShutterSpeed = "1/2000"
	Shutter1_1000 ShutterSpeed = "1/1000"
	Shutter1_500  ShutterSpeed = "1/500"
	Shutter1_250  ShutterSpeed = "1/250"
	Shutter1_125  ShutterSpeed = "1/125"
	Shutter1_60   ShutterSpeed = "1/60"
	Shutter1_30   ShutterSpeed = "1/30"
	Shutter1_15   ShutterSpeed = "1/15"
	Shutter1_8    ShutterSpeed = "1/8"
	Shutter1_4    ShutterSpeed = "1/4"
	Shutter1_2    ShutterSpeed = "1/2"
	Shutter1      ShutterSpeed = "1"
	Shutter2      ShutterSpeed = "2"
	Shutter4      ShutterSpeed = "4"
	Shutter8      ShutterSpeed = "8"
	Shutter15     ShutterSpeed = "15"
	Shutter30     ShutterSpeed = "30"
)

var shutterSpeeds = map[ShutterSpeed]bool{
	ShutterAuto: true, Shutter1_4000: true, Shutter1_2000: true, Shutter1_1000: true,
	Shutter1_500: true, Shutter1_250: true, Shutter1_125: true, Shutter1_60: true,
	Shutter1_30: true, Shutter1_15: true, Shutter1_8: true, Shutter1_4: true,
	Shutter1_2: true, Shutter1: true, Shutter2: true, Shutter4: true,
	Shutter8: true, Shutter15: true, Shutter30: true,
}

// Valid reports whether s is AUTO or one of the presets.
func (s ShutterSpeed) Valid() bool {
	return shutterSpeeds[s]
}

// WhiteBalance holds either auto white balance or manual RGB channel gains.
type WhiteBalance struct {
	Auto  bool    `json:"auto" yaml:"auto"`
	Red   float64 `json:"red" yaml:"red"`
	Green float64 `json:"green" yaml:"green"`
	Blue  float64 `json:"blue" yaml:"blue"`
}

// Focus holds either continuous autofocus or a manual focus position.
type Focus struct {
	Auto    bool    `json:"auto" yaml:"auto"`
	Percent float64 `json:"percent" yaml:"percent"`
}

// CameraConfig is an immutable snapshot of the desired stream and camera
// parameters. Two configs are equal when all of their fields are equal.
type CameraConfig struct {
	Resolution Resolution `json:"resolution" yaml:"resolution"`
	FPS        int        `json:"fps" yaml:"fps"`
	BitrateBps int        `json:"bitrate_bps" yaml:"bitrate_bps"`

	ZoomLevel                   float64      `json:"zoom_level" yaml:"zoom_level"`
	ISOPercent                  int          `json:"iso_percent" yaml:"iso_percent"`
	ShutterSpeed                ShutterSpeed `json:"shutter_speed" yaml:"shutter_speed"`
	ExposureCompensationPercent int          `json:"exposure_compensation_percent" yaml:"exposure_compensation_percent"`

	WhiteBalance WhiteBalance `json:"white_balance" yaml:"white_balance"`
	Focus        Focus        `json:"focus" yaml:"focus"`

	FlashEnabled bool    `json:"flash_enabled" yaml:"flash_enabled"`
	Gamma        float64 `json:"gamma" yaml:"gamma"`
	Contrast     float64 `json:"contrast" yaml:"contrast"`
}

// DefaultCameraConfig returns the configuration used when nothing was ever
// fetched or cached.
func DefaultCameraConfig() CameraConfig {
	return CameraConfig{
		Resolution:   Resolution{Width: 720, Height: 1080},
		FPS:          30,
		BitrateBps:   2_500_000,
		ZoomLevel:    1,
		ShutterSpeed: ShutterAuto,
		WhiteBalance: WhiteBalance{Auto: true, Red: 1, Green: 1, Blue: 1},
		Focus:        Focus{Auto: true},
		Gamma:        1,
		Contrast:     1,
	}
}

// RequiresRestart reports whether moving from prev to c changes encoder
// parameters, which cannot be applied to a live connection.
func (c CameraConfig) RequiresRestart(prev CameraConfig) bool {
	return prev.FPS != c.FPS ||
		prev.BitrateBps != c.BitrateBps ||
		prev.Resolution != c.Resolution
}

// Clamp returns a copy with every percent field forced into its range.
func (c CameraConfig) Clamp() CameraConfig {
	out := c
	out.ISOPercent = clampInt(c.ISOPercent, 0, 100)
	out.ExposureCompensationPercent = clampInt(c.ExposureCompensationPercent, -100, 100)
	out.Focus.Percent = clampFloat(c.Focus.Percent, 0, 100)
	if out.ZoomLevel < 1 {
		out.ZoomLevel = 1
	}
	if out.Gamma <= 0 {
		out.Gamma = 1
	}
	if out.Contrast <= 0 {
		out.Contrast = 1
	}
	if out.ShutterSpeed == "" {
		out.ShutterSpeed = ShutterAuto
	}
	return out
}

// EncoderSettings are the parameters a publish pipeline is built with.
type EncoderSettings struct {
	Width          int
	Height         int
	FPS            int
	BitrateBps     int
	IFrameInterval int // seconds
}

func (e EncoderSettings) String() string {
	return fmt.Sprintf("%dx%d@%dfps %dbps gop=%ds", e.Width, e.Height, e.FPS, e.BitrateBps, e.IFrameInterval)
}

// MinEncoderFPS is the lowest frame rate handed to the encoder.
const MinEncoderFPS = 15

func (c CameraConfig) EncoderSettings() EncoderSettings {
	fps := c.FPS
	if fps < MinEncoderFPS {
		fps = MinEncoderFPS
	}
	return EncoderSettings{
		Width:          c.Resolution.Width,
		Height:         c.Resolution.Height,
		FPS:            fps,
		BitrateBps:     c.BitrateBps,
		IFrameInterval: 2,
	}
}

func (c CameraConfig) String() string {
	return fmt.Sprintf("%s@%dfps %dbps zoom=%.1f iso=%d%% shutter=%s ev=%d%%",
		c.Resolution, c.FPS, c.BitrateBps, c.ZoomLevel, c.ISOPercent, c.ShutterSpeed, c.ExposureCompensationPercent)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
