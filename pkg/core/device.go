// pkg/core/device.go
package core

// DeviceClass is the coarse form factor of the host device.
type DeviceClass int

const (
	DeviceDesktop DeviceClass = iota
	DeviceMobile
	DeviceTablet
)

func (d DeviceClass) String() string {
	switch d {
	case DeviceMobile:
		return "mobile"
	case DeviceTablet:
		return "tablet"
	default:
		return "desktop"
	}
}

// Handheld reports whether the class uses the mobile tuning profile.
func (d DeviceClass) Handheld() bool {
	return d == DeviceMobile || d == DeviceTablet
}

// Platform is the runtime platform the host adapter reports.
type Platform int

const (
	PlatformWeb Platform = iota
	PlatformAndroid
	PlatformIOS
)

func (p Platform) String() string {
	switch p {
	case PlatformAndroid:
		return "android"
	case PlatformIOS:
		return "ios"
	default:
		return "web"
	}
}

// Native reports whether the platform has a native positioning stack.
func (p Platform) Native() bool {
	return p == PlatformAndroid || p == PlatformIOS
}
