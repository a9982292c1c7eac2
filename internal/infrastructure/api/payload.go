package api

import "camstream/internal/core/domain"

// cameraConfigPayload is the flat camera-config document served by the
// backend.
type cameraConfigPayload struct {
	Width                int     `json:"width"`
	Height               int     `json:"height"`
	FPS                  int     `json:"fps"`
	Bitrate              int     `json:"bitrate"`
	ZoomLevel            float64 `json:"zoomLevel"`
	ISO                  int     `json:"iso"`
	ExposureCompensation int     `json:"exposureCompensation"`
	ShutterSpeed         string  `json:"shutterSpeed"`
	Red                  float64 `json:"red"`
	Green                float64 `json:"green"`
	Blue                 float64 `json:"blue"`
	FocusPercent         float64 `json:"focusPercent"`
	AutoFocus            bool    `json:"autoFocus"`
	AutoWhiteBalance     bool    `json:"autoWhiteBalance"`
	FlashLight           bool    `json:"flashLight"`
	Gamma                float64 `json:"gamma"`
	Contrast             float64 `json:"contrast"`
}

func payloadFromConfig(c domain.CameraConfig) cameraConfigPayload {
	return cameraConfigPayload{
		Width:                c.Resolution.Width,
		Height:               c.Resolution.Height,
		FPS:                  c.FPS,
		Bitrate:              c.BitrateBps,
		ZoomLevel:            c.ZoomLevel,
		ISO:                  c.ISOPercent,
		ExposureCompensation: c.ExposureCompensationPercent,
		ShutterSpeed:         string(c.ShutterSpeed),
		Red:                  c.WhiteBalance.Red,
		Green:                c.WhiteBalance.Green,
		Blue:                 c.WhiteBalance.Blue,
		FocusPercent:         c.Focus.Percent,
		AutoFocus:            c.Focus.Auto,
		AutoWhiteBalance:     c.WhiteBalance.Auto,
		FlashLight:           c.FlashEnabled,
		Gamma:                c.Gamma,
		Contrast:             c.Contrast,
	}
}

func (p cameraConfigPayload) toConfig() domain.CameraConfig {
	return domain.CameraConfig{
		Resolution:                  domain.Resolution{Width: p.Width, Height: p.Height},
		FPS:                         p.FPS,
		BitrateBps:                  p.Bitrate,
		ZoomLevel:                   p.ZoomLevel,
		ISOPercent:                  p.ISO,
		ShutterSpeed:                domain.ShutterSpeed(p.ShutterSpeed),
		ExposureCompensationPercent: p.ExposureCompensation,
		WhiteBalance: domain.WhiteBalance{
			Auto:  p.AutoWhiteBalance,
			Red:   p.Red,
			Green: p.Green,
			Blue:  p.Blue,
		},
		Focus:        domain.Focus{Auto: p.AutoFocus, Percent: p.FocusPercent},
		FlashEnabled: p.FlashLight,
		Gamma:        p.Gamma,
		Contrast:     p.Contrast,
	}
}
