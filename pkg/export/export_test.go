package export

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/celerix-dev/celerix-export/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingObserver struct {
	mu      sync.Mutex
	results []Result
	errs    []error
}

func (o *recordingObserver) ObserveExport(res *Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, *res)
	o.errs = append(o.errs, err)
}

func sampleRecords(t *testing.T) []schema.Submission {
	return decodeSubmissions(t, `[
		{"_id":"abc123","createdAt":"2024-01-15T10:00:00Z","clientID":"C1","data":{"full_name":"Jane Doe","age":30}},
		{"_id":"def456","data":{"full_name":"Smith, John","email":"john@example.com"}}
	]`)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"CSV", FormatCSV, false},
		{" pdf ", FormatPDF, false},
		{"excel", FormatXLSX, false},
		{"xls", FormatXLSX, false},
		{"xlsx", FormatXLSX, false},
		{"docx", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestExport_SaveFailure(t *testing.T) {
	boom := errors.New("disk full")
	sink := SinkFunc(func(context.Context, File) error { return boom })
	obs := &recordingObserver{}

	res, err := New(sink, WithObserver(obs)).CSV(context.Background(), sampleRecords(t), "x.csv")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSave)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrRender)

	var exportErr *Error
	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, KindSave, exportErr.Kind)
	assert.Equal(t, "x.csv", exportErr.Filename)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Zero(t, res.Bytes)

	require.Len(t, obs.results, 1)
	assert.Equal(t, StatusFailed, obs.results[0].Status)
	assert.Same(t, err, obs.errs[0])
}

func TestExport_NilSink(t *testing.T) {
	_, err := New(nil).XLSX(context.Background(), sampleRecords(t), "T", "t.xlsx")
	assert.ErrorIs(t, err, ErrSave)
}

func TestExport_CanceledBeforeSave(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &MemorySink{}

	for _, f := range []Format{FormatCSV, FormatPDF, FormatXLSX} {
		res, err := New(sink).Export(ctx, f, sampleRecords(t), "T", "t."+f.Ext())
		assert.ErrorIs(t, err, ErrCanceled, f)
		assert.ErrorIs(t, err, context.Canceled, f)
		assert.Equal(t, StatusFailed, res.Status)
	}
	assert.Empty(t, sink.Files())
}

func TestExport_ObserverSeesSkipped(t *testing.T) {
	obs := &recordingObserver{}
	res, err := New(&MemorySink{}, WithObserver(obs)).PDF(context.Background(), nil, "T", "t.pdf")
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	require.Len(t, obs.results, 1)
	assert.Nil(t, obs.errs[0])
	assert.NotEmpty(t, obs.results[0].ID)
}

func TestExport_ToKeepsOptions(t *testing.T) {
	first, second := &MemorySink{}, &MemorySink{}
	e := New(first, WithOrganization("ORG"), WithCompression(false))

	_, err := e.To(second).SubmissionPDF(context.Background(), schema.Submission{ID: "1"}, "one.pdf")
	require.NoError(t, err)
	assert.Empty(t, first.Files())
	require.Len(t, second.Files(), 1)
	assert.Contains(t, string(second.Files()[0].Body), "(ORG) Tj")
}

func TestExport_UnknownFormat(t *testing.T) {
	_, err := New(&MemorySink{}).Export(context.Background(), Format("odt"), sampleRecords(t), "", "x.odt")
	assert.Error(t, err)
}

func TestXLSX_Workbook(t *testing.T) {
	sink := &MemorySink{}
	res, err := New(sink).XLSX(context.Background(), sampleRecords(t), "All Form Submissions", "all_submissions.xlsx")
	require.NoError(t, err)
	assert.Equal(t, StatusSaved, res.Status)

	file := sink.Files()[0]
	assert.Equal(t, FormatXLSX.ContentType(), file.ContentType)

	f, err := excelize.OpenReader(bytes.NewReader(file.Body))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Submissions"}, f.GetSheetList())
	rows, err := f.GetRows("Submissions")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Submission ID", "Client Name", "Date", "Age", "Email", "Full Name"}, rows[0])
	assert.Equal(t, []string{"abc123", "C1", "Jan 15 2024 10:00 AM", "30", "", "Jane Doe"}, rows[1])
	assert.Equal(t, []string{"def456", UnknownClient, UnknownDate, "", "john@example.com", "Smith, John"}, rows[2])

	panes, err := f.GetPanes("Submissions")
	require.NoError(t, err)
	assert.True(t, panes.Freeze)
	assert.Equal(t, 1, panes.YSplit)

	props, err := f.GetDocProps()
	require.NoError(t, err)
	assert.Equal(t, "All Form Submissions", props.Title)
}

func TestXLSX_LongCellIsReported(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	long := strings.Repeat("x", excelize.TotalCellChars+10)
	records := []schema.Submission{{ID: "s1", ClientID: "C1", Data: schema.Payload{"notes": schema.String(long)}}}

	sink := &MemorySink{}
	e := New(sink, WithLogger(zap.New(core)))
	_, err := e.XLSX(context.Background(), records, "All", "a.xlsx")
	require.NoError(t, err)

	entries := logs.FilterMessage("xlsx cells truncated to the Excel cell limit").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 1, entries[0].ContextMap()["cells"])

	_, err = e.To(sink).CSV(context.Background(), records, "a.csv")
	require.NoError(t, err)
	assert.Contains(t, string(sink.Files()[1].Body), long)
}

func TestExport_FormatsAgree(t *testing.T) {
	records := sampleRecords(t)
	csvSink, pdfSink, xlsxSink := &MemorySink{}, &MemorySink{}, &MemorySink{}
	e := New(nil, WithCompression(false))

	_, err := e.To(csvSink).CSV(context.Background(), records, "a.csv")
	require.NoError(t, err)
	_, err = e.To(pdfSink).PDF(context.Background(), records, "All", "a.pdf")
	require.NoError(t, err)
	_, err = e.To(xlsxSink).XLSX(context.Background(), records, "All", "a.xlsx")
	require.NoError(t, err)

	csvRows := parseCSV(t, csvSink.Files()[0].Body)

	f, err := excelize.OpenReader(bytes.NewReader(xlsxSink.Files()[0].Body))
	require.NoError(t, err)
	defer f.Close()
	xlsxRows, err := f.GetRows("Submissions")
	require.NoError(t, err)
	assert.Equal(t, csvRows[0], xlsxRows[0])
	assert.Equal(t, csvRows[1], xlsxRows[1])

	pdf := string(pdfSink.Files()[0].Body)
	for _, row := range csvRows[1:] {
		assert.Contains(t, pdf, "("+row[2]+") Tj", "date %q", row[2])
	}
	assert.Contains(t, pdf, "(2. "+UnknownClient+") Tj")
	for _, label := range csvRows[0][3:] {
		assert.Contains(t, pdf, "("+label+") Tj")
	}
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(filepath.Join(dir, "out"))
	require.NoError(t, err)

	require.NoError(t, sink.Save(context.Background(), File{Name: "../escape.csv", Body: []byte("v1")}))
	require.NoError(t, sink.Save(context.Background(), File{Name: "escape.csv", Body: []byte("v2")}))

	got, err := os.ReadFile(filepath.Join(dir, "out", "escape.csv"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	_, err = os.Stat(filepath.Join(dir, "escape.csv"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "out", "escape.csv.tmp"))
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, sink.Save(context.Background(), File{Name: ""}))
}

func TestFileSink_ThroughExporter(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	res, err := New(sink).CSV(context.Background(), sampleRecords(t), "submissions_c1.csv")
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(sink.Dir, "submissions_c1.csv"))
	require.NoError(t, err)
	assert.EqualValues(t, res.Bytes, info.Size())
}
