package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/campusride/livelocation/internal/device"
	"github.com/campusride/livelocation/internal/model"
	"github.com/campusride/livelocation/internal/session"
)

var features = map[string]string{
	"driver":  model.FeatureDriverLocationShare,
	"student": model.FeatureStudentLocationView,
}

func sessionFlags(fs *pflag.FlagSet) {
	fs.String("action", "check", "check, claim or release")
	fs.String("user", "", "user id (required)")
	fs.String("feature", "driver", "driver, student, or a raw feature name")
	deviceFlags(fs)
}

func resolveFeature(name string) string {
	if f, ok := features[strings.ToLower(name)]; ok {
		return f
	}
	return name
}

func runSession(ctx context.Context, fs *pflag.FlagSet) error {
	action, _ := fs.GetString("action")
	userID, _ := fs.GetString("user")
	featureName, _ := fs.GetString("feature")
	if userID == "" {
		return errors.New("--user is required")
	}
	feature := resolveFeature(featureName)

	caps := device.Probe(environmentFromFlags(fs))
	platform = caps.Platform.String()

	arbiter, err := newArbiter(ctx, deviceInfo(caps))
	if err != nil {
		return err
	}
	defer arbiter.Close()

	switch strings.ToLower(action) {
	case "check":
		printStatus(os.Stdout, arbiter.DeviceID(), arbiter.Check(ctx, userID, feature))
		return nil
	case "claim":
		if err := arbiter.Claim(ctx, userID, feature); err != nil {
			return err
		}
		fmt.Printf("claimed %s for %s on device %s\n", feature, userID, arbiter.DeviceID())
		return nil
	case "release":
		if err := arbiter.Release(ctx, userID, feature); err != nil {
			return err
		}
		fmt.Printf("released %s for %s\n", feature, userID)
		return nil
	default:
		return fmt.Errorf("unknown session action %q", action)
	}
}

func printStatus(w io.Writer, self string, st session.Status) {
	switch {
	case !st.HasActiveSession:
		fmt.Fprintf(w, "no active session (this device %s)\n", self)
	case st.IsCurrentDevice:
		fmt.Fprintf(w, "active on this device %s, last seen %s ago\n", self, st.SessionAge.Round(time.Second))
	default:
		fmt.Fprintf(w, "active on another device %s, last seen %s ago\n", st.OtherDeviceID, st.SessionAge.Round(time.Second))
	}
}
