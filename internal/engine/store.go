// Package engine defines the core interfaces of the submission store and its
// embedded implementation.
package engine

import (
	"context"
	"errors"

	"github.com/celerix-dev/celerix-export/pkg/schema"
)

var (
	// ErrSubmissionNotFound is returned when a requested submission does not exist.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrClientNotFound is returned when a requested client does not exist.
	ErrClientNotFound = errors.New("client not found")
	// ErrUnauthorized is returned when the caller has no session or no bound client.
	ErrUnauthorized = errors.New("unauthorized")
)

// UnassignedBucket holds submissions that carry no client ID.
const UnassignedBucket = "_unassigned"

// SubmissionStore is the primary interface for reading and writing form
// submissions. Both the embedded engine and the remote portal client
// implement this contract.
type SubmissionStore interface {
	// Submissions returns every submission, or only those of clientID when
	// it is non-empty.
	Submissions(ctx context.Context, clientID string) ([]schema.Submission, error)
	// Submission returns one submission by ID or ErrSubmissionNotFound.
	Submission(ctx context.Context, id string) (*schema.Submission, error)
	// Clients returns all known client descriptors.
	Clients(ctx context.Context) ([]schema.Client, error)

	// Me returns the client the store is acting as.
	Me(ctx context.Context) (*schema.Client, error)
	// MySubmissions returns the submissions addressed to Me.
	MySubmissions(ctx context.Context) ([]schema.Submission, error)

	// SubmitForm stores a new submission for clientID and returns it with
	// its assigned ID and creation time.
	SubmitForm(ctx context.Context, clientID string, data schema.Payload) (*schema.Submission, error)
	// DeleteSubmission removes a submission by ID.
	DeleteSubmission(ctx context.Context, id string) error
}

// Importer accepts fully formed records, keeping their IDs and timestamps.
// Migrate writes into an Importer.
type Importer interface {
	PutClient(ctx context.Context, c schema.Client) error
	PutSubmission(ctx context.Context, s schema.Submission) error
}
