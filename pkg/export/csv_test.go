package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/celerix-dev/celerix-export/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseCSV(t *testing.T, body []byte) [][]string {
	t.Helper()
	require.True(t, bytes.HasPrefix(body, []byte("\xef\xbb\xbf")), "missing BOM")
	rows, err := csv.NewReader(bytes.NewReader(body[3:])).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSV_ConcreteScenario(t *testing.T) {
	sink := &MemorySink{}
	records := decodeSubmissions(t, `[{"_id":"abc123","createdAt":"2024-01-15T10:00:00Z","clientID":"C1","data":{"full_name":"Jane Doe","age":30}}]`)

	res, err := New(sink).CSV(context.Background(), records, "submissions.csv")
	require.NoError(t, err)
	assert.Equal(t, StatusSaved, res.Status)
	assert.Equal(t, 5, res.Columns)

	files := sink.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "submissions.csv", files[0].Name)
	assert.Equal(t, "text/csv; charset=utf-8", files[0].ContentType)

	want := "\ufeffSubmission ID,Client Name,Date,Age,Full Name\n" +
		"abc123,C1,Jan 15 2024 10:00 AM,30,Jane Doe\n"
	assert.Equal(t, want, string(files[0].Body))
	assert.Equal(t, len(want), res.Bytes)
}

func TestCSV_DivergentPayloads(t *testing.T) {
	sink := &MemorySink{}
	records := decodeSubmissions(t, `[
		{"_id": "1", "clientID": "x", "data": {"a": 1}},
		{"_id": "2", "clientID": "y", "data": {"b": 2}}
	]`)

	_, err := New(sink).CSV(context.Background(), records, "out.csv")
	require.NoError(t, err)

	rows := parseCSV(t, sink.Files()[0].Body)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Submission ID", "Client Name", "Date", "A", "B"}, rows[0])
	assert.Equal(t, "", rows[1][4], "first record B cell")
	assert.Equal(t, "", rows[2][3], "second record A cell")
}

func TestCSV_QuotingRoundTrips(t *testing.T) {
	sink := &MemorySink{}
	tricky := []string{
		`Smith, John`,
		`He said "hi"`,
		"line one\nline two",
		`plain`,
		`"leading quote`,
	}
	var records []schema.Submission
	for i, s := range tricky {
		records = append(records, schema.Submission{
			ID:   string(rune('a' + i)),
			Data: schema.Payload{"note": schema.String(s)},
		})
	}

	_, err := New(sink).CSV(context.Background(), records, "q.csv")
	require.NoError(t, err)

	body := string(sink.Files()[0].Body)
	assert.Contains(t, body, `"Smith, John"`)
	assert.Contains(t, body, `"He said ""hi"""`)

	rows := parseCSV(t, sink.Files()[0].Body)
	require.Len(t, rows, len(tricky)+1)
	for i, s := range tricky {
		assert.Equal(t, s, rows[i+1][3])
	}
}

func TestCSV_RowCountMatchesRecords(t *testing.T) {
	for _, n := range []int{1, 2, 17} {
		sink := &MemorySink{}
		records := make([]schema.Submission, n)
		for i := range records {
			records[i] = schema.Submission{ID: strings.Repeat("x", i+1), Data: schema.Payload{"k": schema.Number(float64(i))}}
		}
		_, err := New(sink).CSV(context.Background(), records, "n.csv")
		require.NoError(t, err)
		assert.Len(t, parseCSV(t, sink.Files()[0].Body), n+1)
	}
}

func TestCSV_EmptyInputIsSkipped(t *testing.T) {
	sink := &MemorySink{}
	e := New(sink)

	for _, records := range [][]schema.Submission{nil, {}} {
		res, err := e.CSV(context.Background(), records, "none.csv")
		require.NoError(t, err)
		assert.Equal(t, StatusSkipped, res.Status)
	}
	assert.Empty(t, sink.Files())
}

func TestCSV_EmptyPayloadStillEmitsRow(t *testing.T) {
	sink := &MemorySink{}
	records := []schema.Submission{
		{ID: "full", Data: schema.Payload{"a": schema.String("1"), "b": schema.Bool(false)}},
		{ID: "empty", Data: schema.Payload{}},
	}
	_, err := New(sink).CSV(context.Background(), records, "e.csv")
	require.NoError(t, err)

	rows := parseCSV(t, sink.Files()[0].Body)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"full", UnknownClient, UnknownDate, "1", "false"}, rows[1])
	assert.Equal(t, []string{"empty", UnknownClient, UnknownDate, "", ""}, rows[2])
}

func TestCSV_NestedValueIsSingleLine(t *testing.T) {
	sink := &MemorySink{}
	records := decodeSubmissions(t, `[{"_id":"n","data":{"address":{"street":"1 Main St","notes":"a\nb"}}}]`)
	_, err := New(sink).CSV(context.Background(), records, "n.csv")
	require.NoError(t, err)

	rows := parseCSV(t, sink.Files()[0].Body)
	cell := rows[1][3]
	assert.NotContains(t, cell, "\n")
	assert.Equal(t, `{"street":"1 Main St","notes":"a\nb"}`, cell)
}
