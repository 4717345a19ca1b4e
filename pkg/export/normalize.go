package export

import (
	"sort"
	"strings"
	"time"

	"github.com/celerix-dev/celerix-export/pkg/schema"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// UnknownClient is shown when a record carries neither a client
	// descriptor nor a client identifier.
	UnknownClient = "Unknown"
	// UnknownDate is shown when a record has no usable creation time.
	UnknownDate = "N/A"
	// DateLayout formats creation times in every export format.
	DateLayout = "Jan 2 2006 3:04 PM"
)

// fixedHeaders lead every tabular export.
var fixedHeaders = []string{"Submission ID", "Client Name", "Date"}

// Field is one labeled payload value of a single record.
type Field struct {
	Key   string
	Label string
	Value string
}

// Row is the display form of one submission.
type Row struct {
	Seq    int
	ID     string
	Client string
	Date   string
	// Cells is aligned with Table.Keys; absent keys are "".
	Cells []string
	// Fields holds only the keys present in this record, in key order.
	Fields []Field
}

// Record returns the row as a flat list of cells in header order.
func (r Row) Record() []string {
	out := make([]string, 0, len(fixedHeaders)+len(r.Cells))
	out = append(out, r.ID, r.Client, r.Date)
	return append(out, r.Cells...)
}

// Table is a batch of submissions normalized onto a shared column set.
type Table struct {
	Keys   []string
	Labels []string
	Rows   []Row
}

// Header returns the fixed leading headers followed by the payload labels.
func (t *Table) Header() []string {
	out := make([]string, 0, len(fixedHeaders)+len(t.Labels))
	out = append(out, fixedHeaders...)
	return append(out, t.Labels...)
}

// Normalizer derives display rows from submissions.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer returns a Normalizer that renders dates in loc (UTC if nil).
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Normalize renders records in UTC.
func Normalize(records []schema.Submission) *Table {
	return NewNormalizer(time.UTC).Normalize(records)
}

// Normalize builds the column union and one row per record. The input is
// only read.
func (n *Normalizer) Normalize(records []schema.Submission) *Table {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec.Data {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	labels := make([]string, len(keys))
	for i, k := range keys {
		labels[i] = TitleCase(k)
	}

	t := &Table{Keys: keys, Labels: labels, Rows: make([]Row, 0, len(records))}
	for i, rec := range records {
		row := Row{
			Seq:    i + 1,
			ID:     rec.ID,
			Client: n.ClientName(rec),
			Date:   n.Date(rec.CreatedAt),
			Cells:  make([]string, len(keys)),
		}
		for j, k := range keys {
			v, ok := rec.Data[k]
			if !ok {
				continue
			}
			row.Cells[j] = v.Display()
			row.Fields = append(row.Fields, Field{Key: k, Label: labels[j], Value: row.Cells[j]})
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// ClientName resolves the display name for the record's client: the
// embedded descriptor's user name, then the raw client ID, then
// UnknownClient.
func (n *Normalizer) ClientName(rec schema.Submission) string {
	raw := ""
	if rec.ClientDetails != nil {
		raw = strings.TrimSpace(rec.ClientDetails.UserName)
	}
	if raw == "" {
		raw = strings.TrimSpace(rec.ClientID)
	}
	if raw == "" {
		return UnknownClient
	}
	return titleWords(raw)
}

// Date formats ts with DateLayout, or returns UnknownDate.
func (n *Normalizer) Date(ts schema.Timestamp) string {
	t, ok := ts.Time()
	if !ok {
		return UnknownDate
	}
	return t.In(n.loc).Format(DateLayout)
}

// TitleCase turns a snake_case payload key into a column label:
// underscores become spaces and each word is capitalized with the rest
// lower-cased.
func TitleCase(key string) string {
	return titleWords(strings.ReplaceAll(key, "_", " "))
}

func titleWords(s string) string {
	// A Caser keeps state between calls and must not be shared.
	return cases.Title(language.Und).String(s)
}
