// Package portal assembles submission listings from a backend and turns them
// into titled, named exports.
package portal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/celerix-dev/celerix-export/pkg/export"
	"github.com/celerix-dev/celerix-export/pkg/schema"
	"github.com/celerix-dev/celerix-export/pkg/sdk"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sort orders a listing by creation time.
type Sort string

const (
	SortNewest Sort = "newest"
	SortOldest Sort = "oldest"
)

// ParseSort accepts "newest", "oldest" or "" (newest).
func ParseSort(s string) (Sort, error) {
	switch Sort(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortNewest:
		return SortNewest, nil
	case SortOldest:
		return SortOldest, nil
	default:
		return "", fmt.Errorf("unknown sort order %q", s)
	}
}

const (
	// AllTitle titles an unfiltered listing.
	AllTitle = "All Form Submissions"
	// SelfFallbackName is used when the signed-in client has no user name.
	SelfFallbackName = "Client"
)

// ErrConflictingQuery is returned when a query asks for both a client and
// the caller's own submissions.
var ErrConflictingQuery = errors.New("client and self cannot be combined")

// Query selects which submissions to list.
type Query struct {
	// ClientID limits the listing to one client.
	ClientID string
	// Self lists the signed-in client's own submissions.
	Self bool
	Sort Sort
}

// Listing is a sorted, joined set of submissions with the title and base
// file name an export of it should carry.
type Listing struct {
	Submissions []schema.Submission
	Title       string
	// Base is the file name without extension.
	Base string
}

// Filename returns the listing's file name for format.
func (l *Listing) Filename(format export.Format) string {
	return l.Base + "." + format.Ext()
}

// Service lists and exports submissions from a backend.
type Service struct {
	backend  sdk.Backend
	exporter *export.Exporter
	logger   *zap.Logger
}

// NewService creates a service. exporter carries the observers (audit,
// metrics) that should see every export; its sink is replaced per call.
func NewService(backend sdk.Backend, exporter *export.Exporter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exporter == nil {
		exporter = export.New(nil, export.WithLogger(logger))
	}
	return &Service{backend: backend, exporter: exporter, logger: logger}
}

// Backend returns the underlying submission source.
func (s *Service) Backend() sdk.Backend { return s.backend }

// List fetches, joins and sorts the submissions selected by q.
func (s *Service) List(ctx context.Context, q Query) (*Listing, error) {
	if q.ClientID != "" && q.Self {
		return nil, ErrConflictingQuery
	}
	if q.Sort == "" {
		q.Sort = SortNewest
	}

	var (
		listing *Listing
		err     error
	)
	if q.Self {
		listing, err = s.listSelf(ctx)
	} else {
		listing, err = s.listAdmin(ctx, q.ClientID)
	}
	if err != nil {
		return nil, err
	}
	sortSubmissions(listing.Submissions, q.Sort)
	return listing, nil
}

func (s *Service) listAdmin(ctx context.Context, clientID string) (*Listing, error) {
	var (
		submissions []schema.Submission
		clients     []schema.Client
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		submissions, err = s.backend.Submissions(gctx, clientID)
		return err
	})
	g.Go(func() error {
		var err error
		clients, err = s.backend.Clients(gctx)
		if err != nil {
			// Names degrade to client IDs.
			s.logger.Warn("failed to load clients, continuing without names", zap.Error(err))
			clients = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load submissions: %w", err)
	}

	byID := make(map[string]schema.Client, len(clients))
	for _, c := range clients {
		byID[c.ClientID] = c
	}
	joined := join(submissions, byID)

	if clientID == "" {
		return &Listing{Submissions: joined, Title: AllTitle, Base: "all_submissions"}, nil
	}
	name := clientID
	if c, ok := byID[clientID]; ok && strings.TrimSpace(c.UserName) != "" {
		name = c.UserName
	}
	return &Listing{
		Submissions: joined,
		Title:       "Submissions - " + name,
		Base:        "submissions_" + underscore(name),
	}, nil
}

func (s *Service) listSelf(ctx context.Context) (*Listing, error) {
	var (
		submissions []schema.Submission
		me          *schema.Client
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		submissions, err = s.backend.MySubmissions(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		me, err = s.backend.Me(gctx)
		if err != nil {
			s.logger.Debug("no identity for self export", zap.Error(err))
			me = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load own submissions: %w", err)
	}

	name := SelfFallbackName
	if me != nil && strings.TrimSpace(me.UserName) != "" {
		name = me.UserName
	}
	out := make([]schema.Submission, len(submissions))
	for i, sub := range submissions {
		if sub.ClientDetails == nil {
			details := schema.Client{ClientID: sub.ClientID, UserName: name}
			if me != nil {
				details = *me
				details.UserName = name
			}
			sub.ClientDetails = &details
		}
		out[i] = sub
	}
	return &Listing{
		Submissions: out,
		Title:       "My Submissions - " + name,
		Base:        "my_submissions_" + underscore(name),
	}, nil
}

// Export lists q and renders it in format into sink. An empty listing is
// reported with StatusSkipped and nothing is delivered.
func (s *Service) Export(ctx context.Context, q Query, format export.Format, sink export.Sink) (*export.Result, *Listing, error) {
	listing, err := s.List(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.ExportListing(ctx, listing, format, listing.Filename(format), sink)
	return res, listing, err
}

// ExportListing renders an already fetched listing under filename.
func (s *Service) ExportListing(ctx context.Context, listing *Listing, format export.Format, filename string, sink export.Sink) (*export.Result, error) {
	return s.exporter.To(sink).Export(ctx, format, listing.Submissions, listing.Title, filename)
}

// ExportSubmission renders the submission with id as a single-record PDF.
func (s *Service) ExportSubmission(ctx context.Context, id string, sink export.Sink) (*export.Result, error) {
	sub, err := s.backend.Submission(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.ClientDetails == nil && sub.ClientID != "" {
		clients, err := s.backend.Clients(ctx)
		if err != nil {
			s.logger.Warn("failed to load clients, continuing without names", zap.Error(err))
		}
		for _, c := range clients {
			if c.ClientID == sub.ClientID {
				c := c
				sub.ClientDetails = &c
				break
			}
		}
	}
	return s.exporter.To(sink).SubmissionPDF(ctx, *sub, "submission_"+underscore(id)+".pdf")
}

// join fills ClientDetails from clients for records that have none. The
// input is not modified.
func join(submissions []schema.Submission, clients map[string]schema.Client) []schema.Submission {
	out := make([]schema.Submission, len(submissions))
	for i, sub := range submissions {
		if sub.ClientDetails == nil {
			if c, ok := clients[sub.ClientID]; ok {
				c := c
				sub.ClientDetails = &c
			}
		}
		out[i] = sub
	}
	return out
}

// sortSubmissions orders by creation time; unknown times count as the zero
// time. Ties keep their backend order.
func sortSubmissions(subs []schema.Submission, order Sort) {
	sort.SliceStable(subs, func(i, j int) bool {
		a, b := subs[i].Created(), subs[j].Created()
		if order == SortOldest {
			return a.Before(b)
		}
		return a.After(b)
	})
}

var whitespace = regexp.MustCompile(`\s+`)

func underscore(name string) string {
	return whitespace.ReplaceAllString(strings.TrimSpace(name), "_")
}
