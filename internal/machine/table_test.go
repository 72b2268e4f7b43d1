package machine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlpipe/internal/op"
)

func TestDefaultTable(t *testing.T) {
	table, err := DefaultTable()
	require.NoError(t, err)

	assert.Equal(t, StateInit, table.Initial)
	assert.Equal(t, DefaultTableName, table.Source)

	var names []State
	for _, def := range table.States() {
		names = append(names, def.Name)
	}
	assert.Equal(t, []State{StateInit, StateIdle, StateRunning, StateError, StateFinal}, names)

	idle, ok := table.State(StateIdle)
	require.True(t, ok)
	assert.Equal(t, []Action{ActionRecordState, ActionResetRetryCount, ActionResumePending}, idle.Entry)

	final, ok := table.State(StateFinal)
	require.True(t, ok)
	assert.True(t, final.Final)
}

func TestDefaultTable_Transitions(t *testing.T) {
	table, err := DefaultTable()
	require.NoError(t, err)

	tests := []struct {
		from State
		ev   Event
		want State
		ok   bool
	}{
		{StateInit, EventDBExists, StateIdle, true},
		{StateInit, EventDBCreateSuccess, StateIdle, true},
		{StateInit, EventDBCreateFail, StateError, true},
		{StateIdle, EventStart, StateRunning, true},
		{StateIdle, EventShutdown, StateFinal, true},
		{StateRunning, EventStop, StateIdle, true},
		{StateRunning, EventTaskError, StateError, true},
		{StateError, EventDBExists, StateIdle, true},
		{StateError, EventRetryExhausted, StateFinal, true},
		{StateIdle, EventStop, "", false},
		{StateRunning, EventStart, "", false},
		{StateFinal, EventStart, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			got, ok := table.Next(tt.from, tt.ev)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadTableFile_Missing(t *testing.T) {
	_, err := LoadTableFile(filepath.Join(t.TempDir(), "nope.cue"))

	require.Error(t, err)
	assert.True(t, op.IsInitializationError(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadTableFile_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.cue")
	require.NoError(t, os.WriteFile(path, []byte(`
initial: "init"
states: {
	init: {
		entry: ["check.database"]
		on: [{event: "db.exists", target: "final"}]
	}
	final: final: true
}
`), 0o644))

	table, err := LoadTableFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, table.Source)

	next, ok := table.Next(StateInit, EventDBExists)
	assert.True(t, ok)
	assert.Equal(t, StateFinal, next)
}

func TestLoadTable_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", ``},
		{"syntax", `initial: "init" states: {`},
		{"missing initial", `states: { init: {} }`},
		{"unknown state", `initial: "init"
states: { init: {}, paused: {} }`},
		{"unknown event", `initial: "init"
states: { init: { on: [{event: "explode", target: "init"}] } }`},
		{"unknown action", `initial: "init"
states: { init: { entry: ["launch.rockets"] } }`},
		{"undefined target", `initial: "init"
states: { init: { on: [{event: "start", target: "running"}] } }`},
		{"undefined initial", `initial: "idle"
states: { init: {} }`},
		{"duplicate event", `initial: "init"
states: { init: { on: [{event: "start", target: "init"}, {event: "start", target: "init"}] } }`},
		{"final with transitions", `initial: "final"
states: { final: { final: true, on: [{event: "start", target: "final"}] } }`},
		{"wrong type", `initial: 3
states: { init: {} }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTable("test.cue", []byte(tt.src))
			require.Error(t, err)
			assert.True(t, op.IsInitializationError(err), "got %v", err)
		})
	}
}
