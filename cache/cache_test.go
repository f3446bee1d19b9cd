package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	Names []string
	IDs   [][]int64
}

func counter(v snapshot, builds *int) func() (snapshot, error) {
	return func() (snapshot, error) {
		*builds++
		return v, nil
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "refcoco+_train_20_60.gob.zst", Key("refcoco+", "train", 20, 60))
	assert.NotEqual(t, Key("refcoco+", "train", 20, 60), Key("refcoco+", "train", 20, 36))
}

func TestLoadOrBuild_MissThenHit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", Key("refcoco", "val", 20, 60))
	want := snapshot{Names: []string{"a", "b"}, IDs: [][]int64{{1, 2}, {3}}}
	builds := 0

	got, outcome, err := LoadOrBuild(Options[snapshot]{Path: path, Build: counter(want, &builds), Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMiss, outcome)
	assert.Equal(t, want, got)
	assert.FileExists(t, path)

	got, outcome, err = LoadOrBuild(Options[snapshot]{Path: path, Build: counter(want, &builds), Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeHit, outcome)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, builds)
}

func TestLoadOrBuild_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.gob.zst")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	want := snapshot{Names: []string{"x"}}
	builds := 0
	got, outcome, err := LoadOrBuild(Options[snapshot]{Path: path, Build: counter(want, &builds), Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCorrupt, outcome)
	assert.Equal(t, want, got)

	// The rebuilt snapshot replaced the corrupt file.
	_, outcome, err = LoadOrBuild(Options[snapshot]{Path: path, Build: counter(want, &builds), Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeHit, outcome)
	assert.Equal(t, 1, builds)
}

func TestLoadOrBuild_ValidateRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.gob.zst")
	builds := 0
	_, _, err := LoadOrBuild(Options[snapshot]{Path: path, Build: counter(snapshot{Names: []string{"old"}}, &builds), Logger: zerolog.Nop()})
	require.NoError(t, err)

	fresh := snapshot{Names: []string{"new"}}
	got, outcome, err := LoadOrBuild(Options[snapshot]{
		Path:  path,
		Build: counter(fresh, &builds),
		Validate: func(s snapshot) error {
			if s.Names[0] != "new" {
				return errors.New("stale")
			}
			return nil
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCorrupt, outcome)
	assert.Equal(t, fresh, got)
	assert.Equal(t, 2, builds)
}

func TestLoadOrBuild_BuildError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.gob.zst")
	_, _, err := LoadOrBuild(Options[snapshot]{
		Path:   path,
		Build:  func() (snapshot, error) { return snapshot{}, errors.New("boom") },
		Logger: zerolog.Nop(),
	})
	assert.ErrorContains(t, err, "boom")
	assert.NoFileExists(t, path)
}

func TestLoadOrBuild_Disabled(t *testing.T) {
	builds := 0
	_, outcome, err := LoadOrBuild(Options[snapshot]{Build: counter(snapshot{}, &builds), Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDisabled, outcome)
	assert.Equal(t, 1, builds)
}
