package domain

// Rect is a pixel rectangle on the sensor active array.
type Rect struct {
	Left   int `json:"left" yaml:"left"`
	Top    int `json:"top" yaml:"top"`
	Right  int `json:"right" yaml:"right"`
	Bottom int `json:"bottom" yaml:"bottom"`
}

func (r Rect) Width() int  { return r.Right - r.Left }
func (r Rect) Height() int { return r.Bottom - r.Top }

// IntRange is an inclusive hardware-reported integer range.
type IntRange struct {
	Lower int `json:"lower" yaml:"lower"`
	Upper int `json:"upper" yaml:"upper"`
}

// Valid reports whether the range can be used for mapping.
func (r IntRange) Valid() bool { return r.Upper > r.Lower }

// Int64Range is an inclusive hardware-reported range in nanoseconds.
type Int64Range struct {
	Lower int64 `json:"lower" yaml:"lower"`
	Upper int64 `json:"upper" yaml:"upper"`
}

func (r Int64Range) Valid() bool { return r.Lower > 0 && r.Upper > r.Lower }

// CameraCharacteristics are the hardware capabilities a capture session
// reports. Zero values mean the capability is unsupported.
type CameraCharacteristics struct {
	ActiveArray         Rect       `json:"active_array" yaml:"active_array"`
	MaxDigitalZoom      float64    `json:"max_digital_zoom" yaml:"max_digital_zoom"`
	SensitivityRange    IntRange   `json:"sensitivity_range" yaml:"sensitivity_range"`
	ExposureTimeRange   Int64Range `json:"exposure_time_range" yaml:"exposure_time_range"`
	AECompensationRange IntRange   `json:"ae_compensation_range" yaml:"ae_compensation_range"`
	MinFocusDistance    float64    `json:"min_focus_distance" yaml:"min_focus_distance"` // diopters, 0 = fixed focus
	ColorGainMin        float64    `json:"color_gain_min" yaml:"color_gain_min"`
	ColorGainMax        float64    `json:"color_gain_max" yaml:"color_gain_max"`
	FlashAvailable      bool       `json:"flash_available" yaml:"flash_available"`
	ToneCurveMaxPoints  int        `json:"tone_curve_max_points" yaml:"tone_curve_max_points"`
}

// ControlMode mirrors the top-level 3A control mode of a capture request.
type ControlMode string

const (
	ControlModeAuto ControlMode = "auto"
	ControlModeOff  ControlMode = "off"
)

// FlashMode of a capture request.
type FlashMode string

const (
	FlashOff   FlashMode = "off"
	FlashTorch FlashMode = "torch"
)

// RGGBGains are per-channel color correction gains.
type RGGBGains struct {
	Red       float64 `json:"red"`
	GreenEven float64 `json:"green_even"`
	GreenOdd  float64 `json:"green_odd"`
	Blue      float64 `json:"blue"`
}

// MeteringRect is a weighted region used for focus metering.
type MeteringRect struct {
	Rect   Rect `json:"rect"`
	Weight int  `json:"weight"`
}

// MeteringWeightMax is the strongest metering weight.
const MeteringWeightMax = 1000

// CaptureRequest is the set of per-frame controls pushed onto a running
// capture session. Nil fields leave the session's current value untouched.
type CaptureRequest struct {
	ControlMode        ControlMode    `json:"control_mode,omitempty"`
	SensorSensitivity  *int           `json:"sensor_sensitivity,omitempty"`
	SensorExposureTime *int64         `json:"sensor_exposure_time,omitempty"`
	AECompensation     *int           `json:"ae_compensation,omitempty"`
	CropRegion         *Rect          `json:"crop_region,omitempty"`
	AWBAuto            *bool          `json:"awb_auto,omitempty"`
	ColorGains         *RGGBGains     `json:"color_gains,omitempty"`
	FlashMode          FlashMode      `json:"flash_mode,omitempty"`
	AFAuto             *bool          `json:"af_auto,omitempty"`
	FocusDistance      *float64       `json:"focus_distance,omitempty"`
	AFRegions          []MeteringRect `json:"af_regions,omitempty"`
	ToneCurve          []float64      `json:"tone_curve,omitempty"`
}
