package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL checks that urlStr parses, has a host and uses one of schemes.
func ValidateURL(urlStr string, schemes ...string) error {
	if strings.TrimSpace(urlStr) == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if len(schemes) > 0 && !contains(schemes, u.Scheme) {
		return fmt.Errorf("invalid URL scheme %q (must be %s)", u.Scheme, strings.Join(schemes, ", "))
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateResolution checks an encoder frame size.
func ValidateResolution(width, height int) error {
	if width < 16 || height < 16 {
		return fmt.Errorf("resolution %dx%d is too small (min 16x16)", width, height)
	}
	if width > 7680 || height > 7680 {
		return fmt.Errorf("resolution %dx%d is too large (max 7680 per side)", width, height)
	}
	if width%2 != 0 || height%2 != 0 {
		return fmt.Errorf("resolution %dx%d must have even dimensions", width, height)
	}
	return nil
}

// ValidateFPS checks an encoder frame rate.
func ValidateFPS(fps int) error {
	if fps < 1 {
		return fmt.Errorf("fps must be at least 1")
	}
	if fps > 120 {
		return fmt.Errorf("fps is too high (max 120)")
	}
	return nil
}

// ValidateBitrate checks an encoder bitrate in bits per second.
func ValidateBitrate(bps int) error {
	if bps < 100_000 {
		return fmt.Errorf("bitrate must be at least 100000 bps")
	}
	if bps > 50_000_000 {
		return fmt.Errorf("bitrate is too high (max 50000000 bps)")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
