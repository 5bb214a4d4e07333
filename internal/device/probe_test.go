package device

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/campusride/livelocation/pkg/core"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		env  Environment
		want core.DeviceClass
	}{
		{"unknown", Environment{}, core.DeviceDesktop},
		{"desktop chrome", Environment{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0"}, core.DeviceDesktop},
		{"iphone", Environment{UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148"}, core.DeviceMobile},
		{"ipad", Environment{UserAgent: "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)"}, core.DeviceTablet},
		{"android phone", Environment{UserAgent: "Mozilla/5.0 (Linux; Android 14; Pixel 8) Mobile Safari/537.36"}, core.DeviceMobile},
		{"android tablet", Environment{UserAgent: "Mozilla/5.0 (Linux; Android 14; SM-X710) Safari/537.36"}, core.DeviceTablet},
		{"touch narrow", Environment{MaxTouchPoints: 5, ScreenWidth: 400}, core.DeviceMobile},
		{"touch medium", Environment{MaxTouchPoints: 5, ScreenWidth: 1024}, core.DeviceTablet},
		{"touch wide", Environment{MaxTouchPoints: 5, ScreenWidth: 1920}, core.DeviceDesktop},
		{"native shell", Environment{NativeShell: true, NativePlatform: "android", ScreenWidth: 390}, core.DeviceMobile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.env))
		})
	}
}

func TestPlatform(t *testing.T) {
	assert.Equal(t, core.PlatformWeb, Platform(Environment{}))
	assert.Equal(t, core.PlatformWeb, Platform(Environment{NativePlatform: "android"}), "native platform ignored outside a native shell")
	assert.Equal(t, core.PlatformAndroid, Platform(Environment{NativeShell: true, NativePlatform: "Android"}))
	assert.Equal(t, core.PlatformIOS, Platform(Environment{NativeShell: true, NativePlatform: "ios"}))
	assert.Equal(t, core.PlatformIOS, Platform(Environment{NativeShell: true, GOOS: "ios"}))
	assert.Equal(t, core.PlatformWeb, Platform(Environment{NativeShell: true, NativePlatform: "windows"}))
}

func TestProbe(t *testing.T) {
	caps := Probe(Environment{NativeShell: true, NativePlatform: "ios", UserAgent: "iPhone"})
	assert.Equal(t, core.DeviceMobile, caps.Class)
	assert.Equal(t, core.PlatformIOS, caps.Platform)
	assert.True(t, caps.Native)
	assert.True(t, caps.BackgroundCapable)

	caps = Probe(Environment{})
	assert.Equal(t, core.DeviceDesktop, caps.Class)
	assert.Equal(t, core.PlatformWeb, caps.Platform)
	assert.False(t, caps.Native)
}
