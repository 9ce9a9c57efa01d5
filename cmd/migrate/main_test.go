package main

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMigrator struct {
	calls   []string
	upErr   error
	steps   int
	version uint
	verErr  error
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	return f.upErr
}

func (f *fakeMigrator) Down() error {
	f.calls = append(f.calls, "down")
	return nil
}

func (f *fakeMigrator) Steps(n int) error {
	f.calls = append(f.calls, "steps")
	f.steps = n
	return nil
}

func (f *fakeMigrator) Version() (uint, bool, error) {
	return f.version, false, f.verErr
}

func TestRun_Modes(t *testing.T) {
	tests := []struct {
		mode  string
		steps int
		want  []string
	}{
		{"up", 1, []string{"up"}},
		{"down", 1, []string{"down"}},
		{"steps", -2, []string{"steps"}},
		{"version", 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			m := &fakeMigrator{version: 1}
			require.NoError(t, run(m, tt.mode, tt.steps, zap.NewNop()))
			assert.Equal(t, tt.want, m.calls)
		})
	}
}

func TestRun_StepsPassesCount(t *testing.T) {
	m := &fakeMigrator{version: 1}

	require.NoError(t, run(m, "steps", -2, zap.NewNop()))

	assert.Equal(t, -2, m.steps)
}

func TestRun_NoChangeIsNotAnError(t *testing.T) {
	m := &fakeMigrator{upErr: migrate.ErrNoChange, version: 1}

	assert.NoError(t, run(m, "up", 1, zap.NewNop()))
}

func TestRun_FreshDatabaseHasNoVersion(t *testing.T) {
	m := &fakeMigrator{verErr: migrate.ErrNilVersion}

	assert.NoError(t, run(m, "version", 1, zap.NewNop()))
}

func TestRun_Errors(t *testing.T) {
	assert.Error(t, run(&fakeMigrator{}, "sideways", 1, zap.NewNop()))
	assert.Error(t, run(&fakeMigrator{}, "steps", 0, zap.NewNop()))

	boom := errors.New("dirty database version 1")
	err := run(&fakeMigrator{upErr: boom}, "up", 1, zap.NewNop())
	assert.ErrorIs(t, err, boom)
}
