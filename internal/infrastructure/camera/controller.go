package camera

import (
	"fmt"

	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

// Controller applies camera configurations to one capture session. It is
// bound to the session it was built for and must be discarded with it.
type Controller struct {
	session ports.CaptureSession
	logger  *zap.SugaredLogger
}

func NewController(session ports.CaptureSession, logger *zap.SugaredLogger) *Controller {
	return &Controller{session: session, logger: logger}
}

// Factory returns a ports.CameraControlFactory producing Controllers.
func Factory(logger *zap.SugaredLogger) ports.CameraControlFactory {
	return func(session ports.CaptureSession) ports.CameraControl {
		return NewController(session, logger)
	}
}

// Apply builds a single capture request for cfg and submits it. When
// exposureChanged is set only exposure compensation is touched on the
// exposure path; otherwise shutter and ISO are applied. Controls whose
// hardware range is unsupported are skipped.
func (c *Controller) Apply(cfg domain.CameraConfig, exposureChanged bool) error {
	req, skipped := BuildRequest(c.session.Characteristics(), cfg, exposureChanged)
	if len(skipped) > 0 {
		c.logger.Debugw("Camera controls skipped", "controls", skipped)
	}

	if err := c.session.Submit(req); err != nil {
		return fmt.Errorf("submit capture request: %w", err)
	}

	c.logger.Debugw("Camera config applied",
		"config", cfg.String(),
		"exposure_changed", exposureChanged,
	)
	return nil
}

// BuildRequest maps cfg onto a capture request for a device with the given
// characteristics. It also returns the names of controls it had to skip.
func BuildRequest(ch domain.CameraCharacteristics, cfg domain.CameraConfig, exposureChanged bool) (domain.CaptureRequest, []string) {
	var (
		req     domain.CaptureRequest
		skipped []string
	)
	cfg = cfg.Clamp()

	if exposureChanged {
		if steps, ok := AECompensation(ch.AECompensationRange, cfg.ExposureCompensationPercent); ok {
			req.ControlMode = domain.ControlModeAuto
			req.AECompensation = &steps
		} else {
			skipped = append(skipped, "ae_compensation")
		}
	} else if cfg.ShutterSpeed == domain.ShutterAuto {
		req.ControlMode = domain.ControlModeAuto
	} else {
		req.ControlMode = domain.ControlModeOff
		if t, ok := ExposureTime(ch.ExposureTimeRange, cfg.ShutterSpeed); ok {
			req.SensorExposureTime = &t
		} else {
			skipped = append(skipped, "exposure_time")
		}
		if iso, ok := Sensitivity(ch.SensitivityRange, cfg.ISOPercent); ok {
			req.SensorSensitivity = &iso
		} else {
			skipped = append(skipped, "sensitivity")
		}
	}

	if crop, ok := CropRegion(ch.ActiveArray, cfg.ZoomLevel, ch.MaxDigitalZoom); ok {
		req.CropRegion = &crop
	} else {
		skipped = append(skipped, "zoom")
	}

	if cfg.WhiteBalance.Auto {
		req.AWBAuto = boolPtr(true)
	} else if gains, ok := ColorGains(cfg.WhiteBalance, ch.ColorGainMin, ch.ColorGainMax); ok {
		req.AWBAuto = boolPtr(false)
		req.ColorGains = &gains
	} else {
		skipped = append(skipped, "white_balance")
	}

	if ch.FlashAvailable {
		req.FlashMode = domain.FlashOff
		if cfg.FlashEnabled {
			req.FlashMode = domain.FlashTorch
		}
	} else if cfg.FlashEnabled {
		skipped = append(skipped, "flash")
	}

	if cfg.Focus.Auto {
		req.AFAuto = boolPtr(true)
	} else if d, ok := FocusDistance(ch.MinFocusDistance, cfg.Focus.Percent); ok {
		req.AFAuto = boolPtr(false)
		req.FocusDistance = &d
		req.AFRegions = []domain.MeteringRect{FocusRegion(ch.ActiveArray, cfg.Focus.Percent)}
	} else {
		skipped = append(skipped, "focus")
	}

	points := min(DefaultToneCurvePoints, ch.ToneCurveMaxPoints)
	if curve, ok := ToneCurve(cfg.Gamma, cfg.Contrast, points); ok {
		req.ToneCurve = curve
	} else {
		skipped = append(skipped, "tone_curve")
	}

	return req, skipped
}

func boolPtr(b bool) *bool { return &b }
