package sdk

import (
	"context"

	"github.com/celerix-dev/celerix-export/internal/engine"
	"github.com/celerix-dev/celerix-export/pkg/schema"
)

var (
	// ErrUnauthorized is returned when the session is missing or expired.
	ErrUnauthorized = engine.ErrUnauthorized
	// ErrSubmissionNotFound is returned when a requested submission does not exist.
	ErrSubmissionNotFound = engine.ErrSubmissionNotFound
	// ErrClientNotFound is returned when a requested client does not exist.
	ErrClientNotFound = engine.ErrClientNotFound
)

// Role selects the login endpoint.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// --- Functional Interfaces (Interface Segregation) ---

// SubmissionReader lists submissions, optionally for one client, and looks
// one up by ID.
type SubmissionReader interface {
	Submissions(ctx context.Context, clientID string) ([]schema.Submission, error)
	Submission(ctx context.Context, id string) (*schema.Submission, error)
}

// ClientLister lists client descriptors.
type ClientLister interface {
	Clients(ctx context.Context) ([]schema.Client, error)
}

// SelfReader serves the signed-in client's own view.
type SelfReader interface {
	Me(ctx context.Context) (*schema.Client, error)
	MySubmissions(ctx context.Context) ([]schema.Submission, error)
}

// SubmissionWriter creates and removes submissions.
type SubmissionWriter interface {
	SubmitForm(ctx context.Context, clientID string, data schema.Payload) (*schema.Submission, error)
	DeleteSubmission(ctx context.Context, id string) error
}

// --- Composite Interfaces ---

// Backend is everything the export service needs from a submission source.
// Both *Client and the embedded engine satisfy it.
type Backend interface {
	SubmissionReader
	ClientLister
	SelfReader
	SubmissionWriter
}

var (
	_ Backend                = (*Client)(nil)
	_ Backend                = (*engine.MemStore)(nil)
	_ engine.SubmissionStore = (*Client)(nil)
)
