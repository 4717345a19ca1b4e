package export

import (
	"errors"
	"fmt"
	"time"
)

// Status is the outcome of an export call.
type Status string

const (
	StatusSaved   Status = "saved"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Result describes one export call.
type Result struct {
	ID       string        `json:"id"`
	Format   Format        `json:"format"`
	Filename string        `json:"filename"`
	Status   Status        `json:"status"`
	Records  int           `json:"records"`
	Columns  int           `json:"columns"`
	Bytes    int           `json:"bytes"`
	Pages    int           `json:"pages,omitempty"`
	// Blocks counts the per-record sections drawn into a PDF.
	Blocks           int           `json:"blocks,omitempty"`
	BrandingFallback bool          `json:"branding_fallback,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// ErrorKind classifies export failures.
type ErrorKind uint8

const (
	KindRender ErrorKind = iota + 1
	KindSave
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindRender:
		return "render"
	case KindSave:
		return "save"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

var (
	// ErrRender matches failures while building the document.
	ErrRender = errors.New("export: render failed")
	// ErrSave matches failures while handing the document to its sink.
	ErrSave = errors.New("export: save failed")
	// ErrCanceled matches exports abandoned because the context ended.
	ErrCanceled = errors.New("export: canceled")
)

// Error is returned by every failed export. No file was delivered.
type Error struct {
	Kind     ErrorKind
	Format   Format
	Filename string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("export %s %q: %s: %v", e.Format, e.Filename, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindRender:
		return target == ErrRender
	case KindSave:
		return target == ErrSave
	case KindCanceled:
		return target == ErrCanceled
	}
	return false
}
