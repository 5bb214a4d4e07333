package location

import (
	"time"

	"github.com/campusride/livelocation/pkg/core"
)

// DefaultOptions returns the tuning profile for a device class. Handheld
// devices always ask for high accuracy; desktops use desktopHighAccuracy.
func DefaultOptions(class core.DeviceClass, desktopHighAccuracy bool) core.TrackingOptions {
	if class.Handheld() {
		return core.TrackingOptions{
			HighAccuracy:    true,
			Timeout:         15 * time.Second,
			MaxAge:          5 * time.Second,
			Interval:        3 * time.Second,
			FastestInterval: time.Second,
			DistanceFilter:  5,
		}
	}
	return core.TrackingOptions{
		HighAccuracy:    desktopHighAccuracy,
		Timeout:         20 * time.Second,
		MaxAge:          10 * time.Second,
		Interval:        5 * time.Second,
		FastestInterval: 3 * time.Second,
		DistanceFilter:  10,
	}
}
