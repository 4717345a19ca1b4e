package scheduler

import (
	"context"
	"errors"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/celerix-dev/celerix-export/internal/engine"
	"github.com/celerix-dev/celerix-export/internal/portal"
	"github.com/celerix-dev/celerix-export/pkg/export"
	"github.com/celerix-dev/celerix-export/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newService(t *testing.T, withData bool) *portal.Service {
	t.Helper()
	ctx := context.Background()
	ms := engine.NewMemStore(nil, nil)
	if withData {
		require.NoError(t, ms.PutClient(ctx, schema.Client{ClientID: "c1", UserName: "Jane"}))
		_, err := ms.SubmitForm(ctx, "c1", schema.Payload{"age": schema.Number(30)})
		require.NoError(t, err)
	}
	return portal.NewService(ms, export.New(nil), nil)
}

func TestScheduler_RunOnceWritesFiles(t *testing.T) {
	dir := t.TempDir()
	sink, err := export.NewFileSink(dir)
	require.NoError(t, err)

	s := New(newService(t, true), sink, Config{
		Cron:     "0 2 * * *",
		Formats:  []export.Format{export.FormatCSV, export.FormatXLSX},
		Location: time.UTC,
	}, nil)
	s.now = func() time.Time { return time.Date(2024, 1, 15, 2, 0, 5, 0, time.UTC) }

	results, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, export.StatusSaved, res.Status)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"all_submissions_20240115-020005.csv",
		"all_submissions_20240115-020005.xlsx",
	}, names)
}

func TestScheduler_RunOnceEmptyStoreSkips(t *testing.T) {
	sink := &export.MemorySink{}
	s := New(newService(t, false), sink, Config{Cron: "0 2 * * *"}, nil)

	results, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, export.StatusSkipped, results[0].Status)
	assert.Empty(t, sink.Files())
}

func TestScheduler_RunOnceJoinsFailures(t *testing.T) {
	failing := export.SinkFunc(func(context.Context, export.File) error { return errors.New("disk full") })
	s := New(newService(t, true), failing, Config{
		Cron:    "0 2 * * *",
		Formats: []export.Format{export.FormatCSV, export.FormatPDF},
	}, nil)

	results, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, export.ErrSave)
	assert.Len(t, results, 2)
}

func TestScheduler_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(newService(t, false), &export.MemorySink{}, Config{Cron: "30 2 * * *", Location: time.UTC}, nil)
	assert.Nil(t, s.NextRun())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start(ctx))

	next := s.NextRun()
	require.NotNil(t, next)
	assert.Equal(t, 2, next.UTC().Hour())
	assert.Equal(t, 30, next.UTC().Minute())
	assert.True(t, next.After(time.Now()))

	cancel()
	require.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 10*time.Millisecond)
}

func TestScheduler_RestartKeepsOneEntry(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(newService(t, false), &export.MemorySink{}, Config{Cron: "*/5 * * * *", Location: time.UTC}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	s.Stop()
	assert.False(t, s.IsRunning())
	assert.Nil(t, s.NextRun())

	require.NoError(t, s.Start(ctx))
	assert.Len(t, s.cron.Entries(), 1)
	require.NotNil(t, s.NextRun())

	s.Stop()
	assert.Empty(t, s.cron.Entries())
}

func TestScheduler_InvalidCron(t *testing.T) {
	s := New(newService(t, false), &export.MemorySink{}, Config{Cron: "every night"}, nil)
	assert.Error(t, s.Start(context.Background()))
	assert.False(t, s.IsRunning())
}

func TestNew_Defaults(t *testing.T) {
	s := New(newService(t, false), export.SinkFunc(func(context.Context, export.File) error { return nil }), Config{}, nil)
	assert.Equal(t, []export.Format{export.FormatCSV}, s.cfg.Formats)
	assert.Equal(t, time.Local, s.cfg.Location)
}
