package export

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/celerix-dev/celerix-export/pkg/schema"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeSubmissions(t *testing.T, raw string) []schema.Submission {
	t.Helper()
	var out []schema.Submission
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestTitleCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"full_name", "Full Name"},
		{"age", "Age"},
		{"EMAIL_ADDRESS", "Email Address"},
		{"phoneNumber", "Phonenumber"},
		{"a", "A"},
		{"", ""},
		{"already Title", "Already Title"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TitleCase(tt.in), "TitleCase(%q)", tt.in)
	}
}

func TestNormalize_ColumnUnion(t *testing.T) {
	records := decodeSubmissions(t, `[
		{"_id": "1", "clientID": "c1", "data": {"a": 1}},
		{"_id": "2", "clientID": "c2", "data": {"b": 2}}
	]`)

	got := Normalize(records)
	want := &Table{
		Keys:   []string{"a", "b"},
		Labels: []string{"A", "B"},
		Rows: []Row{
			{Seq: 1, ID: "1", Client: "C1", Date: UnknownDate, Cells: []string{"1", ""},
				Fields: []Field{{Key: "a", Label: "A", Value: "1"}}},
			{Seq: 2, ID: "2", Client: "C2", Date: UnknownDate, Cells: []string{"", "2"},
				Fields: []Field{{Key: "b", Label: "B", Value: "2"}}},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"Submission ID", "Client Name", "Date", "A", "B"}, got.Header())
}

func TestNormalize_ClientName(t *testing.T) {
	n := NewNormalizer(nil)
	tests := []struct {
		name string
		rec  schema.Submission
		want string
	}{
		{"descriptor wins", schema.Submission{ClientID: "c-9", ClientDetails: &schema.Client{UserName: "jane doe"}}, "Jane Doe"},
		{"empty descriptor falls back to id", schema.Submission{ClientID: "acme", ClientDetails: &schema.Client{}}, "Acme"},
		{"id only", schema.Submission{ClientID: "C1"}, "C1"},
		{"nothing", schema.Submission{}, UnknownClient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.ClientName(tt.rec))
		})
	}
}

func TestNormalize_Date(t *testing.T) {
	ts := schema.At(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))

	assert.Equal(t, "Jan 15 2024 10:00 AM", NewNormalizer(nil).Date(ts))
	assert.Equal(t, UnknownDate, NewNormalizer(nil).Date(schema.Timestamp{}))

	tokyo := time.FixedZone("JST", 9*60*60)
	assert.Equal(t, "Jan 15 2024 7:00 PM", NewNormalizer(tokyo).Date(ts))
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	records := decodeSubmissions(t, `[
		{"_id": "1", "createdAt": "2024-01-15T10:00:00Z", "data": {"x": {"nested": [1, 2]}, "y": null}},
		{"_id": "2"}
	]`)
	before, err := json.Marshal(records)
	require.NoError(t, err)

	Normalize(records)

	after, err := json.Marshal(records)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
	assert.Nil(t, records[1].Data)
}

func TestNormalize_NullAndNestedValues(t *testing.T) {
	records := decodeSubmissions(t, `[{"_id": "1", "data": {"addr": {"city": "Oslo", "lines": ["a", "b"]}, "note": null}}]`)
	row := Normalize(records).Rows[0]

	assert.Equal(t, []string{`{"city":"Oslo","lines":["a","b"]}`, ""}, row.Cells)
	require.Len(t, row.Fields, 2)
	assert.Equal(t, "Note", row.Fields[1].Label)
	assert.Equal(t, "", row.Fields[1].Value)
}
