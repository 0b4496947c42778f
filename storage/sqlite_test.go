package storage

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vxikit/vxidash/model"
)

func newMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewSQLiteStore(db), mock
}

func TestSQLiteStore_GetInstruments(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "name", "address", "description", "is_active"}).
		AddRow(1, "psu", "mock", "", true).
		AddRow(2, "scope", "192.168.1.20/inst0", `{"signals":[]}`, false)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, address, description, is_active")).
		WillReturnRows(rows)

	instruments, err := store.GetInstruments(context.Background())
	require.NoError(t, err)
	require.Len(t, instruments, 2)
	assert.Equal(t, "psu", instruments[0].Name)
	assert.False(t, instruments[1].IsActive)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_GetInstrument_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM instruments WHERE id = ?")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "address", "description", "is_active"}))

	_, err := store.GetInstrument(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_CreateInstrument(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO instruments")).
		WithArgs("psu", "mock", "", true).
		WillReturnResult(sqlmock.NewResult(7, 1))

	inst := &model.Instrument{Name: "psu", Address: "mock", IsActive: true}
	require.NoError(t, store.CreateInstrument(context.Background(), inst))
	assert.Equal(t, int64(7), inst.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_CreateInstrument_NameTaken(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO instruments")).
		WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: instruments.name"))

	err := store.CreateInstrument(context.Background(), &model.Instrument{Name: "psu"})
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestSQLiteStore_UpdateInstrument_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE instruments")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateInstrument(context.Background(), &model.Instrument{ID: 99, Name: "psu"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_CreateMonitoringSetup_EncodesJSON(t *testing.T) {
	store, mock := newMockStore(t)

	setup := &model.MonitoringSetup{
		Name:           "soak",
		FrequencyHz:    2,
		InstrumentID:   3,
		InitialStateID: "init",
		States: []model.State{
			{ID: "init", Name: "Initial", InstrumentSettings: map[string]model.ModeSelection{}},
		},
		Transitions: []model.Transition{},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO monitoring_setups")).
		WithArgs("soak", 2.0, int64(3), "null", "init",
			`[{"id":"init","name":"Initial","isEndState":false,"instrumentSettings":{}}]`, "[]").
		WillReturnResult(sqlmock.NewResult(5, 1))

	require.NoError(t, store.CreateMonitoringSetup(context.Background(), setup))
	assert.Equal(t, int64(5), setup.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_GetMonitoringSetup_DecodesJSON(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "name", "frequency_hz", "instrument_id",
		"parameters", "initial_state_id", "states", "transitions",
	}).AddRow(5, "soak", 2.0, 3,
		`{"volts":5}`, "init",
		`[{"id":"init","name":"Initial"}]`,
		`[{"id":"t1","sourceStateID":"init","targetStateID":"done","rules":[{"type":"totalTime","seconds":10}]}]`)

	mock.ExpectQuery(regexp.QuoteMeta("FROM monitoring_setups WHERE id = ?")).
		WithArgs(int64(5)).
		WillReturnRows(rows)

	setup, err := store.GetMonitoringSetup(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, "soak", setup.Name)
	assert.Equal(t, int64(3), setup.InstrumentID)
	require.Len(t, setup.States, 1)
	// Normalize runs on load
	assert.NotNil(t, setup.States[0].InstrumentSettings)
	require.Len(t, setup.Transitions, 1)
	require.Len(t, setup.Transitions[0].Rules, 1)
	assert.Equal(t, model.RuleTotalTime, setup.Transitions[0].Rules[0].Type)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestSQLiteStore_FileRoundtrip exercises the real driver against a temp file.
func TestSQLiteStore_FileRoundtrip(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "vxidash.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	inst := &model.Instrument{Name: "psu", Address: "mock", Description: "", IsActive: true}
	require.NoError(t, store.CreateInstrument(ctx, inst))
	require.NotZero(t, inst.ID)

	dup := &model.Instrument{Name: "psu", Address: "elsewhere"}
	assert.ErrorIs(t, store.CreateInstrument(ctx, dup), ErrNameTaken)

	setup := &model.MonitoringSetup{
		Name:           "soak",
		FrequencyHz:    1,
		InstrumentID:   inst.ID,
		InitialStateID: "init",
		States: []model.State{
			{ID: "init", Name: "Initial"},
			{ID: "done", Name: "Done", IsEndState: true},
		},
		Transitions: []model.Transition{
			{ID: "t1", SourceStateID: "init", TargetStateID: "done",
				Rules: []model.Rule{model.TotalTimeRule(5)}},
		},
	}
	require.NoError(t, store.CreateMonitoringSetup(ctx, setup))

	loaded, err := store.GetMonitoringSetup(ctx, setup.ID)
	require.NoError(t, err)
	assert.Equal(t, setup.Name, loaded.Name)
	require.Len(t, loaded.States, 2)
	assert.True(t, loaded.States[1].IsEndState)
	require.Len(t, loaded.Transitions, 1)
	require.NotNil(t, loaded.Transitions[0].Rules[0].Seconds)
	assert.Equal(t, 5.0, *loaded.Transitions[0].Rules[0].Seconds)

	setup.Name = "soak v2"
	require.NoError(t, store.UpdateMonitoringSetup(ctx, setup))

	setups, err := store.GetMonitoringSetups(ctx)
	require.NoError(t, err)
	require.Len(t, setups, 1)
	assert.Equal(t, "soak v2", setups[0].Name)

	require.NoError(t, store.DeleteMonitoringSetup(ctx, setup.ID))
	_, err = store.GetMonitoringSetup(ctx, setup.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.DeleteInstrument(ctx, inst.ID))
	assert.ErrorIs(t, store.DeleteInstrument(ctx, inst.ID), ErrNotFound)
}
