package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/celerix-dev/celerix-export/pkg/export"
	"github.com/celerix-dev/celerix-export/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit", "audit.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	for i, name := range []string{"a.csv", "b.pdf", "c.xlsx"} {
		_, err := s.Record(ctx, schema.AuditLog{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Actor:     "admin",
			Format:    filepath.Ext(name)[1:],
			Filename:  name,
			Records:   i + 1,
			Status:    "saved",
		})
		require.NoError(t, err)
	}

	entries, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c.xlsx", entries[0].Filename)
	assert.Equal(t, "b.pdf", entries[1].Filename)
	assert.Equal(t, ActionExport, entries[0].Action)
	assert.Equal(t, 3, entries[0].Records)
	assert.True(t, entries[0].Timestamp.Equal(base.Add(2*time.Minute)))
	assert.NotEmpty(t, entries[0].ID)

	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_RecentEmpty(t *testing.T) {
	s := openStore(t)
	entries, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	_, err = s.Record(context.Background(), schema.AuditLog{Actor: "cli", Format: "csv", Filename: "x.csv", Status: "saved"})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Recent(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	entries, err := s.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cli", entries[0].Actor)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("", nil)
	assert.Error(t, err)
}

func TestEntry(t *testing.T) {
	saved := Entry("admin", &export.Result{
		ID: "e1", Format: export.FormatPDF, Filename: "all_submissions.pdf",
		Status: export.StatusSaved, Records: 4, Columns: 5, Bytes: 2048, Pages: 2, BrandingFallback: true,
	}, nil)
	assert.Equal(t, "e1", saved.ID)
	assert.Equal(t, "pdf", saved.Format)
	assert.Equal(t, "bytes=2048 columns=5 pages=2 branding=fallback", saved.Details)

	failed := Entry("admin", &export.Result{ID: "e2", Format: export.FormatCSV, Status: export.StatusFailed},
		&export.Error{Kind: export.KindSave, Format: export.FormatCSV, Filename: "x.csv", Err: errors.New("disk full")})
	assert.Equal(t, "failed", failed.Status)
	assert.Contains(t, failed.Details, "disk full")

	skipped := Entry("admin", &export.Result{ID: "e3", Format: export.FormatCSV, Status: export.StatusSkipped}, nil)
	assert.Empty(t, skipped.Details)
}

func TestObserver_RecordsExports(t *testing.T) {
	s := openStore(t)
	sink := &export.MemorySink{}
	exp := export.New(sink, export.WithObserver(s.Observer("scheduler")))

	records := []schema.Submission{{ID: "s1", ClientID: "c1", Data: schema.Payload{"age": schema.Number(30)}}}
	_, err := exp.CSV(context.Background(), records, "one.csv")
	require.NoError(t, err)
	_, err = exp.CSV(context.Background(), nil, "none.csv")
	require.NoError(t, err)

	entries, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]schema.AuditLog{}
	for _, e := range entries {
		byName[e.Filename] = e
	}
	assert.Equal(t, "saved", byName["one.csv"].Status)
	assert.Equal(t, 1, byName["one.csv"].Records)
	assert.Equal(t, "skipped", byName["none.csv"].Status)
	assert.Equal(t, "scheduler", byName["none.csv"].Actor)
}
