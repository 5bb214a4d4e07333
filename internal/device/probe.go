// Package device classifies the host environment once so the location
// orchestrator can pick a positioning strategy and tuning profile.
package device

import (
	"strings"

	"github.com/campusride/livelocation/pkg/core"
)

// Environment is what the host adapter knows about the runtime.
type Environment struct {
	UserAgent      string
	GOOS           string
	NativeShell    bool   // running inside a native app wrapper
	NativePlatform string // "android", "ios" when NativeShell is set
	MaxTouchPoints int
	ScreenWidth    int // CSS pixels, 0 when unknown
}

// Capabilities is the probe result.
type Capabilities struct {
	Class             core.DeviceClass
	Platform          core.Platform
	Native            bool
	BackgroundCapable bool
}

// Probe classifies env. It never fails; unknown environments are Desktop/Web.
func Probe(env Environment) Capabilities {
	platform := Platform(env)
	return Capabilities{
		Class:             Classify(env),
		Platform:          platform,
		Native:            platform.Native(),
		BackgroundCapable: platform.Native(),
	}
}

// Platform reports the runtime platform.
func Platform(env Environment) core.Platform {
	if !env.NativeShell {
		return core.PlatformWeb
	}
	switch strings.ToLower(env.NativePlatform) {
	case "android":
		return core.PlatformAndroid
	case "ios":
		return core.PlatformIOS
	}
	switch strings.ToLower(env.GOOS) {
	case "android":
		return core.PlatformAndroid
	case "ios":
		return core.PlatformIOS
	}
	return core.PlatformWeb
}

// Classify reports the device form factor.
func Classify(env Environment) core.DeviceClass {
	ua := strings.ToLower(env.UserAgent)

	switch {
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		return core.DeviceTablet
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipod"):
		return core.DeviceMobile
	case strings.Contains(ua, "android"):
		if strings.Contains(ua, "mobile") {
			return core.DeviceMobile
		}
		return core.DeviceTablet
	case strings.Contains(ua, "mobile"):
		return core.DeviceMobile
	}

	// native shells without a useful UA are handhelds
	if env.NativeShell && Platform(env).Native() {
		if env.ScreenWidth >= 768 {
			return core.DeviceTablet
		}
		return core.DeviceMobile
	}

	if env.MaxTouchPoints > 0 && env.ScreenWidth > 0 {
		switch {
		case env.ScreenWidth < 768:
			return core.DeviceMobile
		case env.ScreenWidth < 1280:
			return core.DeviceTablet
		}
	}
	return core.DeviceDesktop
}
