package statestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestStore_MissingFileIsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "absent.json"), nil)

	assert.False(t, s.RelaysEnabled())
	assert.False(t, s.Get("anything"))
}

func TestStore_SetPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	s := New(path, nil)
	require.NoError(t, s.SetRelaysEnabled(true))
	assert.True(t, s.RelaysEnabled())

	reopened := New(path, nil)
	assert.True(t, reopened.RelaysEnabled())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, true, doc[KeyRelaysEnabled])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(filePermissions), info.Mode().Perm())
}

func TestStore_LastWriteWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path, nil)

	require.NoError(t, s.SetRelaysEnabled(true))
	require.NoError(t, s.SetRelaysEnabled(false))

	assert.False(t, New(path, nil).RelaysEnabled())
}

func TestStore_PreservesUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"otro_flag": true, "nota": "x"}`), 0600))

	s := New(path, nil)
	require.NoError(t, s.SetRelaysEnabled(true))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, true, doc["otro_flag"])
	assert.Equal(t, "x", doc["nota"])
}

func TestStore_CorruptFileIsEmpty(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantWarn bool
	}{
		{name: "truncated json", content: `{"reles_consultar": tr`, wantWarn: true},
		{name: "empty file", content: "", wantWarn: false},
		{name: "non-bool value", content: `{"reles_consultar": "yes"}`, wantWarn: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			logger := &recordingLogger{}
			s := New(path, logger)

			assert.False(t, s.RelaysEnabled())
			assert.Equal(t, tt.wantWarn, len(logger.warns) > 0)

			require.NoError(t, s.SetRelaysEnabled(true))
			assert.True(t, New(path, nil).RelaysEnabled())
		})
	}
}

func TestStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "state.json"), nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SetRelaysEnabled(i%2 == 0))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_FailedWriteRollsBack(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	// The parent "directory" is a regular file, so MkdirAll fails.
	s := New(filepath.Join(blocker, "state.json"), nil)

	require.Error(t, s.SetRelaysEnabled(true))
	assert.False(t, s.RelaysEnabled())
}

func TestStore_ConcurrentSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(v bool) {
			defer wg.Done()
			assert.NoError(t, s.SetRelaysEnabled(v))
			_ = s.RelaysEnabled()
		}(i%2 == 0)
	}
	wg.Wait()

	// Whatever won, disk and memory agree.
	assert.Equal(t, s.RelaysEnabled(), New(path, nil).RelaysEnabled())
}
