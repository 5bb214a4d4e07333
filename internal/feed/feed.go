// Package feed exports the latest bus positions as a GTFS-Realtime
// VehiclePositions feed.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/campusride/livelocation/internal/trip"
	"github.com/campusride/livelocation/pkg/streaming"
)

// Path is where the CLI mounts the handler.
const Path = "/gtfs-rt/vehicle-positions"

const gtfsRealtimeVersion = "2.0"

// Source lists the latest location of every bus.
type Source interface {
	All(ctx context.Context) ([]streaming.LocationMessage, error)
}

// Build returns a full-dataset feed with one VehiclePosition entity per bus
// whose location is no older than maxAge. A zero maxAge keeps everything.
// Active trips from trips, when non-nil, fill the trip descriptor.
func Build(locs []streaming.LocationMessage, trips *trip.Context, maxAge time.Duration, now time.Time) *gtfsrtpb.FeedMessage {
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
	}

	for _, loc := range locs {
		captured := time.UnixMilli(loc.Timestamp)
		if maxAge > 0 && now.Sub(captured) > maxAge {
			continue
		}

		pos := &gtfsrtpb.Position{
			Latitude:  proto.Float32(float32(loc.Lat)),
			Longitude: proto.Float32(float32(loc.Lng)),
		}
		if loc.Heading != nil {
			pos.Bearing = proto.Float32(float32(*loc.Heading))
		}
		if loc.Speed != nil {
			pos.Speed = proto.Float32(float32(*loc.Speed))
		}

		vp := &gtfsrtpb.VehiclePosition{
			Vehicle: &gtfsrtpb.VehicleDescriptor{
				Id:    proto.String(loc.BusID),
				Label: proto.String(loc.BusID),
			},
			Position:  pos,
			Timestamp: proto.Uint64(uint64(captured.Unix())),
		}
		if trips != nil {
			if t, ok := trips.Get(loc.BusID); ok && t.Active() {
				vp.Trip = &gtfsrtpb.TripDescriptor{TripId: proto.String(t.TripID)}
			}
		}

		fm.Entity = append(fm.Entity, &gtfsrtpb.FeedEntity{
			Id:      proto.String("bus-" + loc.BusID),
			Vehicle: vp,
		})
	}
	return fm
}

// Handler serves the feed as protobuf, or as JSON with ?format=json.
type Handler struct {
	Source Source
	Trips  *trip.Context
	MaxAge time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	locs, err := h.Source.All(r.Context())
	if err != nil {
		logger.Error("Failed to list latest locations", "error", err)
		http.Error(w, "feed unavailable", http.StatusServiceUnavailable)
		return
	}
	fm := Build(locs, h.Trips, h.MaxAge, now())

	var body []byte
	if r.URL.Query().Get("format") == "json" {
		body, err = protojson.Marshal(fm)
		w.Header().Set("Content-Type", "application/json")
	} else {
		body, err = proto.Marshal(fm)
		w.Header().Set("Content-Type", "application/x-protobuf")
	}
	if err != nil {
		logger.Error("Failed to encode feed", "error", err)
		http.Error(w, "feed encoding failed", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(body)
}
