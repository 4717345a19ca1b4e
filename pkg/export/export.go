// Package export turns submission records into downloadable CSV, PDF and
// XLSX documents. Every exporter shares one Normalizer so that column sets
// and sentinel text are identical across formats.
package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/celerix-dev/celerix-export/pkg/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Format is an export document type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// ParseFormat coerces a user-supplied format name into a known Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "pdf":
		return FormatPDF, nil
	case "xlsx", "excel", "xls":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// Ext returns the file extension for f, without the dot.
func (f Format) Ext() string { return string(f) }

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

const (
	// DefaultOrganization is printed in the PDF header band.
	DefaultOrganization = "DIGITECH SOLUTIONS"
	// DefaultBrandingTimeout bounds the branding image load.
	DefaultBrandingTimeout = 5 * time.Second
	// SingleSubmissionTitle titles single-record PDFs.
	SingleSubmissionTitle = "Submission Details"
)

// Observer is notified after every export call, including skipped ones.
type Observer interface {
	ObserveExport(res *Result, err error)
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithLocation sets the time zone for dates.
func WithLocation(loc *time.Location) Option {
	return func(e *Exporter) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithBranding replaces the embedded branding image source. A nil source
// always produces the text-only header.
func WithBranding(src BrandingSource) Option {
	return func(e *Exporter) { e.branding = src }
}

// WithBrandingTimeout bounds the branding load.
func WithBrandingTimeout(d time.Duration) Option {
	return func(e *Exporter) {
		if d > 0 {
			e.brandingTimeout = d
		}
	}
}

// WithOrganization sets the organization name in the PDF header.
func WithOrganization(name string) Option {
	return func(e *Exporter) {
		if name != "" {
			e.org = name
		}
	}
}

// WithClock sets the time source used for "Generated" stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithCompression toggles PDF stream compression.
func WithCompression(on bool) Option {
	return func(e *Exporter) { e.compress = on }
}

// WithObserver registers an observer for finished exports.
func WithObserver(o Observer) Option {
	return func(e *Exporter) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// Exporter renders submissions and hands the result to a Sink. It is
// immutable after New and safe for concurrent use.
type Exporter struct {
	sink            Sink
	branding        BrandingSource
	logger          *zap.Logger
	observers       []Observer
	loc             *time.Location
	org             string
	brandingTimeout time.Duration
	compress        bool
	now             func() time.Time
}

// New returns an Exporter delivering to sink.
func New(sink Sink, opts ...Option) *Exporter {
	e := &Exporter{
		sink:            sink,
		branding:        EmbeddedBranding(),
		logger:          zap.NewNop(),
		loc:             time.UTC,
		org:             DefaultOrganization,
		brandingTimeout: DefaultBrandingTimeout,
		compress:        true,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// To returns a copy of e delivering to sink.
func (e *Exporter) To(sink Sink) *Exporter {
	c := *e
	c.sink = sink
	c.observers = append([]Observer(nil), e.observers...)
	return &c
}

func (e *Exporter) normalizer() *Normalizer { return NewNormalizer(e.loc) }

// CSV exports records as a UTF-8 CSV document named filename. An empty
// batch is skipped without touching the sink.
func (e *Exporter) CSV(ctx context.Context, records []schema.Submission, filename string) (*Result, error) {
	return e.run(ctx, FormatCSV, filename, records, func(ctx context.Context, t *Table, res *Result) ([]byte, error) {
		return renderCSV(t)
	})
}

// PDF exports records as a paginated document titled title.
func (e *Exporter) PDF(ctx context.Context, records []schema.Submission, title, filename string) (*Result, error) {
	return e.run(ctx, FormatPDF, filename, records, func(ctx context.Context, t *Table, res *Result) ([]byte, error) {
		return e.renderPDF(ctx, t, title, res)
	})
}

// SubmissionPDF exports a single record.
func (e *Exporter) SubmissionPDF(ctx context.Context, record schema.Submission, filename string) (*Result, error) {
	return e.PDF(ctx, []schema.Submission{record}, SingleSubmissionTitle, filename)
}

// XLSX exports records as a single-sheet workbook.
func (e *Exporter) XLSX(ctx context.Context, records []schema.Submission, title, filename string) (*Result, error) {
	return e.run(ctx, FormatXLSX, filename, records, func(ctx context.Context, t *Table, res *Result) ([]byte, error) {
		return e.renderXLSX(t, title)
	})
}

// Export dispatches on format. title is ignored for CSV.
func (e *Exporter) Export(ctx context.Context, format Format, records []schema.Submission, title, filename string) (*Result, error) {
	switch format {
	case FormatCSV:
		return e.CSV(ctx, records, filename)
	case FormatPDF:
		return e.PDF(ctx, records, title, filename)
	case FormatXLSX:
		return e.XLSX(ctx, records, title, filename)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

type renderFunc func(ctx context.Context, t *Table, res *Result) ([]byte, error)

func (e *Exporter) run(ctx context.Context, format Format, filename string, records []schema.Submission, render renderFunc) (res *Result, err error) {
	start := time.Now()
	res = &Result{
		ID:       uuid.NewString(),
		Format:   format,
		Filename: filename,
		Records:  len(records),
	}
	defer func() {
		res.Duration = time.Since(start)
		if err != nil {
			res.Status = StatusFailed
		}
		e.finish(res, err)
	}()

	if len(records) == 0 {
		res.Status = StatusSkipped
		return res, nil
	}

	t := e.normalizer().Normalize(records)
	res.Columns = len(t.Header())

	body, err := safeRender(ctx, render, t, res)
	if cerr := ctx.Err(); cerr != nil {
		return res, &Error{Kind: KindCanceled, Format: format, Filename: filename, Err: cerr}
	}
	if err != nil {
		return res, &Error{Kind: KindRender, Format: format, Filename: filename, Err: err}
	}
	if e.sink == nil {
		return res, &Error{Kind: KindSave, Format: format, Filename: filename, Err: fmt.Errorf("no sink configured")}
	}
	if err := e.sink.Save(ctx, File{Name: filename, ContentType: format.ContentType(), Body: body}); err != nil {
		return res, &Error{Kind: KindSave, Format: format, Filename: filename, Err: err}
	}
	res.Bytes = len(body)
	res.Status = StatusSaved
	return res, nil
}

// safeRender converts a renderer panic into an error so a broken document
// never reaches the sink.
func safeRender(ctx context.Context, render renderFunc, t *Table, res *Result) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			body, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return render(ctx, t, res)
}

func (e *Exporter) finish(res *Result, err error) {
	fields := []zap.Field{
		zap.String("export_id", res.ID),
		zap.String("format", string(res.Format)),
		zap.String("filename", res.Filename),
		zap.Int("records", res.Records),
		zap.String("status", string(res.Status)),
		zap.Duration("duration", res.Duration),
	}
	switch {
	case err != nil:
		e.logger.Error("export failed", append(fields, zap.Error(err))...)
	case res.Status == StatusSkipped:
		e.logger.Debug("export skipped, no records", fields...)
	default:
		e.logger.Info("export saved", append(fields, zap.Int("bytes", res.Bytes))...)
	}
	for _, o := range e.observers {
		o.ObserveExport(res, err)
	}
}
