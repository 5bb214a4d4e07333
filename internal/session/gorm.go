package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campusride/livelocation/internal/model"
)

// GormStore keeps records in the device_sessions table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a migrated database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, userID, feature string) (Record, bool, error) {
	var row model.DeviceSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND feature = ?", userID, feature).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec := Record{
		UserID:       row.UserID,
		Feature:      row.Feature,
		DeviceID:     row.DeviceID,
		CreatedAt:    row.CreatedAt,
		LastActiveAt: row.LastActiveAt,
	}
	if len(row.DeviceInfo) > 0 {
		if err := json.Unmarshal(row.DeviceInfo, &rec.DeviceInfo); err != nil {
			return Record{}, false, fmt.Errorf("decode device_info: %w", err)
		}
	}
	return rec, true, nil
}

// Upsert overwrites the owner, creation and activity times of an existing row.
func (s *GormStore) Upsert(ctx context.Context, rec Record) error {
	row := model.DeviceSession{
		UserID:       rec.UserID,
		Feature:      rec.Feature,
		DeviceID:     rec.DeviceID,
		CreatedAt:    rec.CreatedAt,
		LastActiveAt: rec.LastActiveAt,
	}
	if rec.DeviceInfo != nil {
		raw, err := json.Marshal(rec.DeviceInfo)
		if err != nil {
			return err
		}
		row.DeviceInfo = datatypes.JSON(raw)
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "feature"}},
		DoUpdates: clause.AssignmentColumns([]string{"device_id", "created_at", "last_active_at", "device_info"}),
	}).Create(&row).Error
}

func (s *GormStore) Touch(ctx context.Context, userID, feature, deviceID string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.DeviceSession{}).
		Where("user_id = ? AND feature = ? AND device_id = ?", userID, feature, deviceID).
		Update("last_active_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) Delete(ctx context.Context, userID, feature, deviceID string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND feature = ? AND device_id = ?", userID, feature, deviceID).
		Delete(&model.DeviceSession{}).Error
}
