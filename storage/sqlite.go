package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/vxikit/vxidash/model"
)

const sqliteDriverName = "sqlite"

const schemaInstruments = `
CREATE TABLE IF NOT EXISTS instruments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    address TEXT NOT NULL,
    description TEXT,
    is_active BOOLEAN NOT NULL DEFAULT 1
);
`

const schemaMonitoringSetups = `
CREATE TABLE IF NOT EXISTS monitoring_setups (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    frequency_hz REAL NOT NULL DEFAULT 1,
    instrument_id INTEGER,
    parameters TEXT,
    initial_state_id TEXT,
    states TEXT,
    transitions TEXT,
    FOREIGN KEY (instrument_id) REFERENCES instruments(id) ON DELETE SET NULL
);
`

// SQLiteStore implements Store on a SQLite database file. The state machine
// collections are stored as JSON text columns, matching the shape they arrive
// in over the API.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens/creates the SQLite database at path and ensures the schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// SQLite is not great with many writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStore wraps an existing database handle. The schema is assumed to
// be in place; used by tests with a mock driver.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range []string{schemaInstruments, schemaMonitoringSetups} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation matches the driver's UNIQUE constraint error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const (
	selectInstrumentsSQL = `
		SELECT id, name, address, description, is_active
		FROM instruments ORDER BY id`

	selectInstrumentSQL = `
		SELECT id, name, address, description, is_active
		FROM instruments WHERE id = ?`

	insertInstrumentSQL = `
		INSERT INTO instruments (name, address, description, is_active)
		VALUES (?, ?, ?, ?)`

	updateInstrumentSQL = `
		UPDATE instruments SET name = ?, address = ?, description = ?, is_active = ?
		WHERE id = ?`

	deleteInstrumentSQL = `DELETE FROM instruments WHERE id = ?`
)

func scanInstrument(row interface{ Scan(...any) error }) (model.Instrument, error) {
	var inst model.Instrument
	var description sql.NullString
	if err := row.Scan(&inst.ID, &inst.Name, &inst.Address, &description, &inst.IsActive); err != nil {
		return model.Instrument{}, err
	}
	inst.Description = description.String

	return inst, nil
}

func (s *SQLiteStore) GetInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, selectInstrumentsSQL)
	if err != nil {
		return nil, fmt.Errorf("query instruments: %w", err)
	}
	defer rows.Close()

	instruments := []model.Instrument{}
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		instruments = append(instruments, inst)
	}

	return instruments, rows.Err()
}

func (s *SQLiteStore) GetInstrument(ctx context.Context, id int64) (*model.Instrument, error) {
	inst, err := scanInstrument(s.db.QueryRowContext(ctx, selectInstrumentSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query instrument %d: %w", id, err)
	}

	return &inst, nil
}

func (s *SQLiteStore) CreateInstrument(ctx context.Context, inst *model.Instrument) error {
	res, err := s.db.ExecContext(ctx, insertInstrumentSQL,
		inst.Name, inst.Address, inst.Description, inst.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: instrument %q", ErrNameTaken, inst.Name)
		}
		return fmt.Errorf("insert instrument: %w", err)
	}

	inst.ID, err = res.LastInsertId()

	return err
}

func (s *SQLiteStore) UpdateInstrument(ctx context.Context, inst *model.Instrument) error {
	res, err := s.db.ExecContext(ctx, updateInstrumentSQL,
		inst.Name, inst.Address, inst.Description, inst.IsActive, inst.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: instrument %q", ErrNameTaken, inst.Name)
		}
		return fmt.Errorf("update instrument %d: %w", inst.ID, err)
	}

	return requireRow(res, inst.ID)
}

func (s *SQLiteStore) DeleteInstrument(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, deleteInstrumentSQL, id)
	if err != nil {
		return fmt.Errorf("delete instrument %d: %w", id, err)
	}

	return requireRow(res, id)
}

const (
	selectSetupsSQL = `
		SELECT id, name, frequency_hz, instrument_id, parameters, initial_state_id, states, transitions
		FROM monitoring_setups ORDER BY id`

	selectSetupSQL = `
		SELECT id, name, frequency_hz, instrument_id, parameters, initial_state_id, states, transitions
		FROM monitoring_setups WHERE id = ?`

	insertSetupSQL = `
		INSERT INTO monitoring_setups (name, frequency_hz, instrument_id, parameters, initial_state_id, states, transitions)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	updateSetupSQL = `
		UPDATE monitoring_setups SET name = ?, frequency_hz = ?, instrument_id = ?, parameters = ?, initial_state_id = ?, states = ?, transitions = ?
		WHERE id = ?`

	deleteSetupSQL = `DELETE FROM monitoring_setups WHERE id = ?`
)

func scanSetup(row interface{ Scan(...any) error }) (model.MonitoringSetup, error) {
	var setup model.MonitoringSetup
	var instrumentID sql.NullInt64
	var parameters, initialStateID, states, transitions sql.NullString

	if err := row.Scan(&setup.ID, &setup.Name, &setup.FrequencyHz, &instrumentID,
		&parameters, &initialStateID, &states, &transitions); err != nil {
		return model.MonitoringSetup{}, err
	}

	setup.InstrumentID = instrumentID.Int64
	setup.InitialStateID = initialStateID.String

	if parameters.String != "" {
		if err := json.Unmarshal([]byte(parameters.String), &setup.Parameters); err != nil {
			return model.MonitoringSetup{}, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if states.String != "" {
		if err := json.Unmarshal([]byte(states.String), &setup.States); err != nil {
			return model.MonitoringSetup{}, fmt.Errorf("decode states: %w", err)
		}
	}
	if transitions.String != "" {
		if err := json.Unmarshal([]byte(transitions.String), &setup.Transitions); err != nil {
			return model.MonitoringSetup{}, fmt.Errorf("decode transitions: %w", err)
		}
	}

	setup.Normalize()

	return setup, nil
}

func encodeSetup(setup *model.MonitoringSetup) (parameters, states, transitions string, err error) {
	setup.Normalize()

	p, err := json.Marshal(setup.Parameters)
	if err != nil {
		return "", "", "", fmt.Errorf("encode parameters: %w", err)
	}
	st, err := json.Marshal(setup.States)
	if err != nil {
		return "", "", "", fmt.Errorf("encode states: %w", err)
	}
	tr, err := json.Marshal(setup.Transitions)
	if err != nil {
		return "", "", "", fmt.Errorf("encode transitions: %w", err)
	}

	return string(p), string(st), string(tr), nil
}

func (s *SQLiteStore) GetMonitoringSetups(ctx context.Context) ([]model.MonitoringSetup, error) {
	rows, err := s.db.QueryContext(ctx, selectSetupsSQL)
	if err != nil {
		return nil, fmt.Errorf("query monitoring setups: %w", err)
	}
	defer rows.Close()

	setups := []model.MonitoringSetup{}
	for rows.Next() {
		setup, err := scanSetup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan monitoring setup: %w", err)
		}
		setups = append(setups, setup)
	}

	return setups, rows.Err()
}

func (s *SQLiteStore) GetMonitoringSetup(ctx context.Context, id int64) (*model.MonitoringSetup, error) {
	setup, err := scanSetup(s.db.QueryRowContext(ctx, selectSetupSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query monitoring setup %d: %w", id, err)
	}

	return &setup, nil
}

func (s *SQLiteStore) CreateMonitoringSetup(ctx context.Context, setup *model.MonitoringSetup) error {
	parameters, states, transitions, err := encodeSetup(setup)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, insertSetupSQL,
		setup.Name, setup.FrequencyHz, nullableID(setup.InstrumentID),
		parameters, setup.InitialStateID, states, transitions)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: monitoring setup %q", ErrNameTaken, setup.Name)
		}
		return fmt.Errorf("insert monitoring setup: %w", err)
	}

	setup.ID, err = res.LastInsertId()

	return err
}

func (s *SQLiteStore) UpdateMonitoringSetup(ctx context.Context, setup *model.MonitoringSetup) error {
	parameters, states, transitions, err := encodeSetup(setup)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, updateSetupSQL,
		setup.Name, setup.FrequencyHz, nullableID(setup.InstrumentID),
		parameters, setup.InitialStateID, states, transitions, setup.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: monitoring setup %q", ErrNameTaken, setup.Name)
		}
		return fmt.Errorf("update monitoring setup %d: %w", setup.ID, err)
	}

	return requireRow(res, setup.ID)
}

func (s *SQLiteStore) DeleteMonitoringSetup(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, deleteSetupSQL, id)
	if err != nil {
		return fmt.Errorf("delete monitoring setup %d: %w", id, err)
	}

	return requireRow(res, id)
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}

	return id
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	return nil
}
