// Package storage persists instruments and monitoring setups.
package storage

import (
	"context"
	"errors"

	"github.com/vxikit/vxidash/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrNameTaken is returned when a create or update would violate the
	// per-table name uniqueness constraint.
	ErrNameTaken = errors.New("storage: name already in use")
)

// Store is the persistence surface the rest of the system depends on.
type Store interface {
	GetInstruments(ctx context.Context) ([]model.Instrument, error)
	GetInstrument(ctx context.Context, id int64) (*model.Instrument, error)
	CreateInstrument(ctx context.Context, inst *model.Instrument) error
	UpdateInstrument(ctx context.Context, inst *model.Instrument) error
	DeleteInstrument(ctx context.Context, id int64) error

	GetMonitoringSetups(ctx context.Context) ([]model.MonitoringSetup, error)
	GetMonitoringSetup(ctx context.Context, id int64) (*model.MonitoringSetup, error)
	CreateMonitoringSetup(ctx context.Context, setup *model.MonitoringSetup) error
	UpdateMonitoringSetup(ctx context.Context, setup *model.MonitoringSetup) error
	DeleteMonitoringSetup(ctx context.Context, id int64) error

	Close() error
}
