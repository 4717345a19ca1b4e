package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-export/pkg/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemStore is the embedded, thread-safe submission store. Every mutation
// snapshots the touched bucket and persists it in the background.
type MemStore struct {
	mu sync.RWMutex
	// clients is keyed by ClientID.
	clients map[string]schema.Client
	// buckets is [bucketID][submissionID]; bucketID is the ClientID or
	// UnassignedBucket.
	buckets map[string]map[string]schema.Submission
	// index maps a submission ID to its bucket.
	index map[string]string
	owner string

	// version counts mutations per bucket so a stale snapshot never
	// overwrites a newer one on disk.
	version map[string]uint64

	persister *Persistence
	logger    *zap.Logger
	now       func() time.Time
	wg        sync.WaitGroup

	saveMu sync.Mutex
	saved  map[string]uint64
}

// NewMemStore initializes a store from previously loaded buckets and an
// optional persister.
func NewMemStore(initial map[string]Bucket, p *Persistence) *MemStore {
	m := &MemStore{
		version:   make(map[string]uint64),
		saved:     make(map[string]uint64),
		persister: p,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	if p != nil {
		m.logger = p.logger
	}
	m.load(initial)
	return m
}

// Open loads every bucket under p and returns a store persisting into it.
func Open(p *Persistence) (*MemStore, error) {
	all, err := p.LoadAll()
	if err != nil {
		return nil, err
	}
	return NewMemStore(all, p), nil
}

// load replaces the in-memory state. It MUST be called with m.mu held or
// before the store is shared.
func (m *MemStore) load(all map[string]Bucket) {
	m.clients = make(map[string]schema.Client)
	m.buckets = make(map[string]map[string]schema.Submission)
	m.index = make(map[string]string)
	for bucketID, b := range all {
		if b.Client != nil {
			m.clients[bucketID] = *b.Client
		}
		for _, s := range b.Submissions {
			m.putLocked(bucketID, s)
		}
	}
}

func (m *MemStore) putLocked(bucketID string, s schema.Submission) {
	if prev, ok := m.index[s.ID]; ok && prev != bucketID {
		delete(m.buckets[prev], s.ID)
	}
	if m.buckets[bucketID] == nil {
		m.buckets[bucketID] = make(map[string]schema.Submission)
	}
	m.buckets[bucketID][s.ID] = s
	m.index[s.ID] = bucketID
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

// SetOwner binds the store to a client for Me and MySubmissions.
func (m *MemStore) SetOwner(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owner = clientID
}

// Reload re-reads all buckets from disk, replacing the in-memory state.
func (m *MemStore) Reload() error {
	if m.persister == nil {
		return nil
	}
	m.wg.Wait()
	all, err := m.persister.LoadAll()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.load(all)
	n := len(m.index)
	m.mu.Unlock()
	m.logger.Info("store reloaded", zap.Int("buckets", len(all)), zap.Int("submissions", n))
	return nil
}

// --- Interface Implementation ---

func bucketFor(clientID string) string {
	if clientID == "" {
		return UnassignedBucket
	}
	return clientID
}

func (m *MemStore) Submissions(ctx context.Context, clientID string) ([]schema.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	// An unknown client selects nothing.
	out := []schema.Submission{}
	if clientID != "" {
		out = appendBucket(out, m.buckets[clientID])
	} else {
		for _, b := range m.buckets {
			out = appendBucket(out, b)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemStore) Submission(ctx context.Context, id string) (*schema.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	bucketID, ok := m.index[id]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	s := m.buckets[bucketID][id]
	return &s, nil
}

func appendBucket(out []schema.Submission, b map[string]schema.Submission) []schema.Submission {
	for _, s := range b {
		out = append(out, s)
	}
	return out
}

// sortNewestFirst orders by creation time, then ID for a stable listing.
func sortNewestFirst(s []schema.Submission) {
	sort.Slice(s, func(i, j int) bool {
		ti, tj := s[i].Created(), s[j].Created()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return s[i].ID < s[j].ID
	})
}

func (m *MemStore) Clients(ctx context.Context) ([]schema.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]schema.Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (m *MemStore) Me(ctx context.Context) (*schema.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.owner == "" {
		return nil, ErrUnauthorized
	}
	c, ok := m.clients[m.owner]
	if !ok {
		return nil, ErrClientNotFound
	}
	return &c, nil
}

func (m *MemStore) MySubmissions(ctx context.Context) ([]schema.Submission, error) {
	m.mu.RLock()
	owner := m.owner
	m.mu.RUnlock()

	if owner == "" {
		return nil, ErrUnauthorized
	}
	return m.Submissions(ctx, owner)
}

func (m *MemStore) SubmitForm(ctx context.Context, clientID string, data schema.Payload) (*schema.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, fmt.Errorf("submit form: %w", ErrClientNotFound)
	}

	m.mu.Lock()
	if _, ok := m.clients[clientID]; !ok {
		m.mu.Unlock()
		return nil, ErrClientNotFound
	}
	if data == nil {
		data = schema.Payload{}
	}
	s := schema.Submission{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		CreatedAt: schema.At(m.now().UTC()),
		Data:      data,
	}
	m.putLocked(clientID, s)
	snap := m.snapshotLocked(clientID)
	m.mu.Unlock()

	m.persist(clientID, snap)
	return &s, nil
}

func (m *MemStore) DeleteSubmission(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	bucketID, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return ErrSubmissionNotFound
	}
	delete(m.buckets[bucketID], id)
	delete(m.index, id)
	snap := m.snapshotLocked(bucketID)
	m.mu.Unlock()

	m.persist(bucketID, snap)
	return nil
}

// PutClient creates or replaces a client descriptor.
func (m *MemStore) PutClient(ctx context.Context, c schema.Client) error {
	if c.ClientID == "" {
		return fmt.Errorf("put client: empty client ID")
	}
	m.mu.Lock()
	m.clients[c.ClientID] = c
	snap := m.snapshotLocked(c.ClientID)
	m.mu.Unlock()

	m.persist(c.ClientID, snap)
	return nil
}

// PutSubmission stores s as is, replacing any submission with the same ID.
func (m *MemStore) PutSubmission(ctx context.Context, s schema.Submission) error {
	if s.ID == "" {
		return fmt.Errorf("put submission: empty ID")
	}
	// Descriptors are joined at read time and never stored per record.
	s.ClientDetails = nil
	bucketID := bucketFor(s.ClientID)

	m.mu.Lock()
	prev, moved := m.index[s.ID]
	m.putLocked(bucketID, s)
	snap := m.snapshotLocked(bucketID)
	var prevSnapshot snapshot
	if moved && prev != bucketID {
		prevSnapshot = m.snapshotLocked(prev)
	}
	m.mu.Unlock()

	m.persist(bucketID, snap)
	if moved && prev != bucketID {
		m.persist(prev, prevSnapshot)
	}
	return nil
}

// snapshotLocked deep copies one bucket for background persistence.
// It MUST be called while holding m.mu.
func (m *MemStore) snapshotLocked(bucketID string) snapshot {
	m.version[bucketID]++
	b := snapshot{version: m.version[bucketID]}
	if c, ok := m.clients[bucketID]; ok {
		b.Client = &c
	}
	subs := m.buckets[bucketID]
	b.Submissions = make([]schema.Submission, 0, len(subs))
	for _, s := range subs {
		b.Submissions = append(b.Submissions, s)
	}
	sortNewestFirst(b.Submissions)
	return b
}

type snapshot struct {
	Bucket
	version uint64
}

func (m *MemStore) persist(bucketID string, s snapshot) {
	if m.persister == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.saveMu.Lock()
		defer m.saveMu.Unlock()
		if s.version <= m.saved[bucketID] {
			return
		}
		if err := m.persister.SaveBucket(bucketID, s.Bucket); err != nil {
			m.logger.Error("persist bucket failed", zap.String("bucket", bucketID), zap.Error(err))
			return
		}
		m.saved[bucketID] = s.version
	}()
}
