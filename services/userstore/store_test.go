package userstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	path := filepath.Join(t.TempDir(), "data.json")
	return Open(path), path
}

func TestLoadMissingFile(t *testing.T) {
	store, _ := newTestStore(t)

	data, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, data.Users)
}

func TestUpdateRoundtrip(t *testing.T) {
	store, path := newTestStore(t)

	err := store.Update(func(d *Data) error {
		u := d.EnsureUser("1001")
		u.DisplayName = "alice"
		u.Accounts["ns"] = map[string]Account{
			"alice_ns": {Username: "alice_ns", Password: "hunter2", Cookie: "session=abc"},
		}
		u.SignHour = 7
		u.SignMinute = 30
		return nil
	})
	require.NoError(t, err)

	// re-open to make sure the state actually hit the disk
	data, err := Open(path).Load()
	require.NoError(t, err)
	u := data.Users["1001"]
	require.NotNil(t, u)
	require.Equal(t, "alice", u.DisplayName)
	require.Equal(t, "session=abc", u.Accounts["ns"]["alice_ns"].Cookie)
	require.Equal(t, 7, u.SignHour)
	require.True(t, u.HasAccounts())
}

func TestUpdateErrorAbortsWrite(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Update(func(d *Data) error {
		d.EnsureUser("1001").DisplayName = "alice"
		return nil
	})
	require.NoError(t, err)

	err = store.Update(func(d *Data) error {
		d.EnsureUser("1001").DisplayName = "mallory"
		return os.ErrPermission
	})
	require.ErrorIs(t, err, os.ErrPermission)

	data, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "alice", data.Users["1001"].DisplayName)
}

func TestCorruptFileResetsToEmpty(t *testing.T) {
	store, path := newTestStore(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	data, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, data.Users)

	// the reset is persisted, the file parses again
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var parsed Data
	require.NoError(t, json.Unmarshal(raw, &parsed))
}

func TestMigrationOnRead(t *testing.T) {
	store, path := newTestStore(t)

	// legacy record: no modes map, no accounts map, hour out of range
	legacy := `{"users": {"42": {"tgUsername": "bob", "sign_hour": 23}}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	data, err := store.Load()
	require.NoError(t, err)
	u := data.Users["42"]
	require.NotNil(t, u)
	require.NotNil(t, u.Accounts)
	require.NotNil(t, u.Modes)
	require.Equal(t, 0, u.SignHour)

	// the corrected shape is persisted immediately, not on next save
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"modes"`)
}

func TestValidateSchedule(t *testing.T) {
	require.NoError(t, ValidateSchedule(0, 0))
	require.NoError(t, ValidateSchedule(9, 59))
	require.ErrorIs(t, ValidateSchedule(10, 0), ErrScheduleRange)
	require.ErrorIs(t, ValidateSchedule(-1, 0), ErrScheduleRange)
	require.ErrorIs(t, ValidateSchedule(5, 60), ErrScheduleRange)
}
