package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DatabaseModels lists every table the service migrates.
var DatabaseModels = []interface{}{
	&ServiceInfo{},
	&DeviceSession{},
	&LastLocation{},
}

// Session features.
const (
	FeatureDriverLocationShare = "driver_location_share"
	FeatureStudentLocationView = "student_location_view"
)

// ServiceInfo records which schema version created the database.
type ServiceInfo struct {
	gorm.Model
	Name          string `json:"name" gorm:"size:127"`
	SchemaVersion int    `json:"schemaVersion"`
}

func (*ServiceInfo) TableName() string {
	return "service_infos"
}

// DeviceSession is the single live claim per (user, feature). The composite
// primary key is the uniqueness constraint.
type DeviceSession struct {
	UserID       string         `json:"userId" gorm:"primaryKey;size:128"`
	Feature      string         `json:"feature" gorm:"primaryKey;size:64"`
	DeviceID     string         `json:"deviceId" gorm:"size:64;not null;index"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastActiveAt time.Time      `json:"lastActiveAt" gorm:"index"`
	DeviceInfo   datatypes.JSON `json:"deviceInfo"`
}

func (*DeviceSession) TableName() string {
	return "device_sessions"
}

// LastLocation is the most recent accepted location of a bus, used to
// answer new subscribers on connect.
type LastLocation struct {
	BusID      string    `json:"busId" gorm:"primaryKey;size:64"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	Accuracy   float64   `json:"accuracy"`
	CapturedAt time.Time `json:"capturedAt" gorm:"index"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (*LastLocation) TableName() string {
	return "last_locations"
}
