package storage

import (
	"context"
	"errors"
	"time"

	"github.com/streampilot/streampilot-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// Store defines the storage interface shared by the collector (writer) and
// the presentation layer (reader).
type Store interface {
	// Device registry methods. Rows are owned by the presentation layer's
	// CRUD; the poller only lists them.
	CreateDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, id int64) (*models.Device, error)
	ListDevices(ctx context.Context) ([]*models.Device, error)
	DeleteDevice(ctx context.Context, id int64) error

	// Live session methods
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id int64) (*models.Session, error)
	// EndSession stamps ended_at once; a session already closed is left
	// untouched.
	EndSession(ctx context.Context, id int64, endedAt time.Time) error
	SetSessionTitle(ctx context.Context, id int64, title string) error
	ListSessions(ctx context.Context) ([]*models.Session, error)
	DeleteSession(ctx context.Context, id int64) error

	// Sample methods. Samples are append-only.
	InsertSamples(ctx context.Context, samples []*models.Sample) error
	ListSamples(ctx context.Context, sessionID int64) ([]*models.Sample, error)
	LastSampleTime(ctx context.Context, host string) (*time.Time, error)
	ActiveSessionCount(ctx context.Context, host string) (int, error)

	// Close the store
	Close() error
}
