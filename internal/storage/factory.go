package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/campusride/livelocation/internal/cache"
	gormstorage "github.com/campusride/livelocation/internal/storage/gorm"
	"github.com/campusride/livelocation/internal/storage/memory"
)

// Options carries what the backends need. DB is required for "gorm".
type Options struct {
	DB            *gorm.DB
	Cache         *cache.LocationCache
	Logger        *slog.Logger
	FlushInterval time.Duration
	Dump          func() error
	DumpInterval  time.Duration
}

// NewBackend creates a storage backend by type name.
func NewBackend(kind string, opts Options) (Backend, error) {
	switch kind {
	case "memory":
		return memory.New(opts.Cache), nil
	case "gorm":
		if opts.DB == nil {
			return nil, errors.New("gorm backend requires a database")
		}
		return gormstorage.New(gormstorage.Dependencies{
			DB:            opts.DB,
			Cache:         opts.Cache,
			Logger:        opts.Logger,
			FlushInterval: opts.FlushInterval,
			Dump:          opts.Dump,
			DumpInterval:  opts.DumpInterval,
		}), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", kind)
	}
}
