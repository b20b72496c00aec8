package ingest

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helios_server/core/domain"
	"helios_server/core/port/out"
	"helios_server/core/service/allowlist"
	"helios_server/core/service/contact"
	"helios_server/core/service/triage"
	"helios_server/pkg/apperr"
)

// ---- in-memory fakes ----

type fakeAllowlistRepo struct {
	snap domain.AllowlistSnapshot
}

func (f *fakeAllowlistRepo) Snapshot(ctx context.Context) (*domain.AllowlistSnapshot, error) {
	s := f.snap
	return &s, nil
}

func (f *fakeAllowlistRepo) Version(ctx context.Context) (int64, error) {
	return f.snap.Version, nil
}

type fakeClientRepo struct {
	clients []*domain.Client
}

func (f *fakeClientRepo) Create(ctx context.Context, c *domain.Client) error { return nil }
func (f *fakeClientRepo) Update(ctx context.Context, c *domain.Client) error { return nil }
func (f *fakeClientRepo) SoftDelete(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeClientRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	for _, c := range f.clients {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}
func (f *fakeClientRepo) List(ctx context.Context, filter *domain.ClientFilter) ([]*domain.Client, int, error) {
	return f.clients, len(f.clients), nil
}
func (f *fakeClientRepo) SetEmails(ctx context.Context, id uuid.UUID, emails []string) error {
	return nil
}
func (f *fakeClientRepo) SetDomains(ctx context.Context, id uuid.UUID, ds []domain.ClientDomain) error {
	return nil
}
func (f *fakeClientRepo) AddEmail(ctx context.Context, id uuid.UUID, email string) error { return nil }
func (f *fakeClientRepo) AddDomain(ctx context.Context, id uuid.UUID, d domain.ClientDomain) error {
	return nil
}
func (f *fakeClientRepo) FindByEmail(ctx context.Context, email string) (*domain.Client, error) {
	for _, c := range f.clients {
		for _, e := range c.Emails {
			if e == email {
				return c, nil
			}
		}
	}
	return nil, nil
}
func (f *fakeClientRepo) FindByExactDomain(ctx context.Context, dom string) (*domain.Client, error) {
	for _, c := range f.clients {
		for _, d := range c.Domains {
			if !d.Wildcard && d.Domain == dom {
				return c, nil
			}
		}
	}
	return nil, nil
}
func (f *fakeClientRepo) FindByWildcardDomain(ctx context.Context, dom string) (*domain.Client, error) {
	for _, c := range f.clients {
		for _, d := range c.Domains {
			if d.Wildcard && allowlist.DomainMatches(dom, d) {
				return c, nil
			}
		}
	}
	return nil, nil
}

type senderKey struct{ email, messageID string }

type fakeSenderRepo struct {
	rows map[senderKey]*domain.UnknownSender
}

func newFakeSenderRepo() *fakeSenderRepo {
	return &fakeSenderRepo{rows: make(map[senderKey]*domain.UnknownSender)}
}

func (f *fakeSenderRepo) Upsert(ctx context.Context, s *domain.UnknownSender, matched *uuid.UUID) (*domain.UnknownSender, error) {
	k := senderKey{s.Email, s.MessageID}
	if existing, ok := f.rows[k]; ok {
		existing.Hits++
		existing.LastSeen = s.LastSeen
		existing.LastSubject = s.LastSubject
		return existing, nil
	}
	if matched != nil {
		s.ClientID = matched
		s.Status = domain.SenderStatusMatched
	}
	f.rows[k] = s
	return s, nil
}

func (f *fakeSenderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.UnknownSender, error) {
	for _, r := range f.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeSenderRepo) List(ctx context.Context, filter *domain.UnknownSenderFilter) ([]*domain.UnknownSender, int, error) {
	var outRows []*domain.UnknownSender
	for _, r := range f.rows {
		outRows = append(outRows, r)
	}
	return outRows, len(outRows), nil
}

func (f *fakeSenderRepo) Resolve(ctx context.Context, id uuid.UUID, action string, clientID *uuid.UUID, wildcard bool) error {
	for _, r := range f.rows {
		if r.ID == id {
			r.Resolved = true
			if action == domain.ResolveIgnore {
				r.Status = domain.SenderStatusIgnored
			} else {
				r.Status = domain.SenderStatusResolved
				r.ClientID = clientID
			}
			return nil
		}
	}
	return apperr.NotFound("unknown sender")
}

type fakeTaskRepo struct {
	tasks     map[string]*domain.EmailTask
	metas     map[string]*domain.TaskMeta
	processed map[string]*domain.ProcessedEmail
	threads   map[string]*domain.ThreadTask
	notes     []string
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{
		tasks:     make(map[string]*domain.EmailTask),
		metas:     make(map[string]*domain.TaskMeta),
		processed: make(map[string]*domain.ProcessedEmail),
		threads:   make(map[string]*domain.ThreadTask),
	}
}

func (f *fakeTaskRepo) GetProcessed(ctx context.Context, messageID string) (*domain.ProcessedEmail, error) {
	return f.processed[messageID], nil
}

func (f *fakeTaskRepo) RecordProcessed(ctx context.Context, p *domain.ProcessedEmail) error {
	if _, ok := f.processed[p.MessageID]; ok {
		return apperr.Conflict("processed email exists")
	}
	f.processed[p.MessageID] = p
	return nil
}

func (f *fakeTaskRepo) CreateTask(ctx context.Context, task *domain.EmailTask, meta *domain.TaskMeta, ledger *domain.ProcessedEmail) error {
	if _, ok := f.processed[ledger.MessageID]; ok {
		return apperr.Conflict("processed email exists")
	}
	f.tasks[task.ID] = task
	if meta != nil {
		f.metas[meta.TaskID] = meta
	}
	f.processed[ledger.MessageID] = ledger
	if task.ThreadID != "" {
		lastEmailAt := task.CreatedAt
		if task.ReceivedAt != nil {
			lastEmailAt = *task.ReceivedAt
		}
		f.threads[task.ThreadID] = &domain.ThreadTask{
			ThreadID: task.ThreadID, TaskID: task.ID, LastEmailAt: lastEmailAt,
		}
	}
	return nil
}

func (f *fakeTaskRepo) GetTask(ctx context.Context, id string) (*domain.EmailTask, error) {
	return f.tasks[id], nil
}

func (f *fakeTaskRepo) ListLatest(ctx context.Context, filter *domain.EmailTaskFilter) ([]*domain.EmailTask, int, error) {
	var outTasks []*domain.EmailTask
	for _, t := range f.tasks {
		outTasks = append(outTasks, t)
	}
	return outTasks, len(outTasks), nil
}

func (f *fakeTaskRepo) GetTaskMeta(ctx context.Context, taskID string) (*domain.TaskMeta, error) {
	return f.metas[taskID], nil
}

func (f *fakeTaskRepo) UpsertTaskMeta(ctx context.Context, meta *domain.TaskMeta) error {
	f.metas[meta.TaskID] = meta
	return nil
}

func (f *fakeTaskRepo) GetThreadTask(ctx context.Context, threadID string) (*domain.ThreadTask, error) {
	return f.threads[threadID], nil
}

func (f *fakeTaskRepo) AnnotateThreadTask(ctx context.Context, threadID, taskID, note string, lastEmailAt time.Time, ledger *domain.ProcessedEmail) error {
	if _, ok := f.processed[ledger.MessageID]; ok {
		return apperr.Conflict("processed email exists")
	}
	f.processed[ledger.MessageID] = ledger
	f.threads[threadID].LastEmailAt = lastEmailAt
	f.notes = append(f.notes, note)
	return nil
}

var _ out.EmailTaskRepository = (*fakeTaskRepo)(nil)
var _ out.ClientRepository = (*fakeClientRepo)(nil)
var _ out.UnknownSenderRepository = (*fakeSenderRepo)(nil)

// ---- helpers ----

func newTestService(threadMode string, clients []*domain.Client, snap domain.AllowlistSnapshot) (*Service, *fakeTaskRepo, *fakeSenderRepo) {
	clientRepo := &fakeClientRepo{clients: clients}
	senderRepo := newFakeSenderRepo()
	taskRepo := newFakeTaskRepo()

	allow := allowlist.NewService(&fakeAllowlistRepo{snap: snap}, nil)
	contacts := contact.NewService(clientRepo)
	tri := triage.NewService(senderRepo, clientRepo)

	return NewService(allow, contacts, tri, taskRepo, threadMode), taskRepo, senderRepo
}

func allowJane() (domain.AllowlistSnapshot, []*domain.Client) {
	client := &domain.Client{
		ID:     uuid.New(),
		Name:   "Example Ltd",
		Active: true,
		Emails: []string{"jane@example.com"},
	}
	snap := domain.AllowlistSnapshot{
		Version: 1,
		Emails:  []string{"jane@example.com"},
	}
	return snap, []*domain.Client{client}
}

// ---- tests ----

func TestIngestCreatesThenDuplicates(t *testing.T) {
	snap, clients := allowJane()
	svc, tasks, _ := newTestService(ThreadModePerEmail, clients, snap)
	ctx := context.Background()

	email := &domain.InboundEmail{
		MessageID: "rfc:ABC",
		Sender:    "jane@example.com",
		Subject:   "Hi",
	}

	first, err := svc.Ingest(ctx, email)
	require.NoError(t, err)
	assert.True(t, first.Processed)
	assert.Equal(t, domain.ProcessedCreated, first.Reason)
	require.NotNil(t, first.HeliosTaskID)
	assert.Equal(t, "rfc:ABC", *first.HeliosTaskID)

	second, err := svc.Ingest(ctx, email)
	require.NoError(t, err)
	assert.False(t, second.Processed)
	assert.Equal(t, domain.ProcessedDuplicate, second.Reason)
	require.NotNil(t, second.HeliosTaskID)
	assert.Equal(t, "rfc:ABC", *second.HeliosTaskID)

	assert.Len(t, tasks.tasks, 1)
	assert.Len(t, tasks.processed, 1)

	// Client resolved from the allowlisted email.
	assert.Equal(t, clients[0].ID, *tasks.tasks["rfc:ABC"].ClientID)
}

func TestIngestRejectedSenderRecordsUnknown(t *testing.T) {
	snap := domain.AllowlistSnapshot{
		Version: 1,
		Domains: []domain.ClientDomain{{Domain: "acme.com"}},
	}
	svc, tasks, senders := newTestService(ThreadModePerEmail, nil, snap)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, &domain.InboundEmail{
		MessageID: "m1-msg",
		Sender:    "eve@unknown.com",
		Subject:   "Hello",
	})
	require.NoError(t, err)
	assert.False(t, res.Processed)
	assert.Equal(t, domain.ProcessedRejected, res.Reason)

	assert.Empty(t, tasks.tasks)
	require.Len(t, tasks.processed, 1)
	assert.Equal(t, domain.ProcessedRejected, tasks.processed["m1-msg"].Status)

	require.Len(t, senders.rows, 1)
	row := senders.rows[senderKey{"eve@unknown.com", "m1-msg"}]
	require.NotNil(t, row)
	assert.Equal(t, 1, row.Hits)
	assert.Equal(t, domain.SenderStatusPending, row.Status)
	assert.Equal(t, "unknown.com", row.Domain)
}

func TestIngestWildcardDomain(t *testing.T) {
	snap := domain.AllowlistSnapshot{
		Version: 1,
		Domains: []domain.ClientDomain{{Domain: "acme.com", Wildcard: true}},
	}
	svc, _, _ := newTestService(ThreadModePerEmail, nil, snap)
	ctx := context.Background()

	allowed, err := svc.Ingest(ctx, &domain.InboundEmail{
		MessageID: "m-sub-1", Sender: "ops@eu.acme.com", Subject: "x",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessedCreated, allowed.Reason)

	denied, err := svc.Ingest(ctx, &domain.InboundEmail{
		MessageID: "m-tld-1", Sender: "ops@acme.co", Subject: "x",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessedRejected, denied.Reason)
}

func TestIngestDryRunWritesNothing(t *testing.T) {
	snap, clients := allowJane()
	svc, tasks, _ := newTestService(ThreadModePerEmail, clients, snap)

	res, err := svc.Ingest(context.Background(), &domain.InboundEmail{
		MessageID: "rfc:DRY",
		Sender:    "jane@example.com",
		Subject:   "Hi",
		DryRun:    true,
	})
	require.NoError(t, err)
	assert.False(t, res.Processed)
	assert.Equal(t, domain.ProcessedDryRun, res.Reason)
	assert.Empty(t, tasks.tasks)
	assert.Empty(t, tasks.processed)
}

func TestIngestValidation(t *testing.T) {
	snap, clients := allowJane()
	svc, _, _ := newTestService(ThreadModePerEmail, clients, snap)
	ctx := context.Background()

	tests := []struct {
		name  string
		email *domain.InboundEmail
	}{
		{"short message id", &domain.InboundEmail{MessageID: "ab", Sender: "jane@example.com"}},
		{"sender without at", &domain.InboundEmail{MessageID: "rfc:X1", Sender: "nope"}},
		{"bad priority", &domain.InboundEmail{MessageID: "rfc:X2", Sender: "jane@example.com", Priority: "urgent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ingest(ctx, tt.email)
			require.Error(t, err)
			assert.Equal(t, 400, apperr.GetHTTPStatus(err))
		})
	}
}

func TestIngestPerThreadAnnotatesExistingTask(t *testing.T) {
	snap, clients := allowJane()
	svc, tasks, _ := newTestService(ThreadModePerThread, clients, snap)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, &domain.InboundEmail{
		MessageID: "rfc:T1",
		Sender:    "jane@example.com",
		Subject:   "Kickoff",
		ThreadID:  "thread-9",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessedCreated, first.Reason)

	second, err := svc.Ingest(ctx, &domain.InboundEmail{
		MessageID: "rfc:T2",
		Sender:    "jane@example.com",
		Subject:   "Re: Kickoff",
		Content:   "more details",
		ThreadID:  "thread-9",
	})
	require.NoError(t, err)
	assert.True(t, second.Processed)
	assert.Equal(t, domain.ProcessedCreated, second.Reason)
	assert.Equal(t, "rfc:T1", *second.HeliosTaskID)

	// One task, two ledger rows, one annotation.
	assert.Len(t, tasks.tasks, 1)
	assert.Len(t, tasks.processed, 2)
	require.Len(t, tasks.notes, 1)
	assert.Contains(t, tasks.notes[0], "Re: Kickoff")
}

// racingTaskRepo misses the ledger on its first read, simulating a
// concurrent worker winning the insert between dedupe and create.
type racingTaskRepo struct {
	*fakeTaskRepo
	misses int
}

func (r *racingTaskRepo) GetProcessed(ctx context.Context, messageID string) (*domain.ProcessedEmail, error) {
	if r.misses > 0 {
		r.misses--
		return nil, nil
	}
	return r.fakeTaskRepo.GetProcessed(ctx, messageID)
}

func TestIngestCreateRaceReturnsWinnerTaskID(t *testing.T) {
	snap, clients := allowJane()
	clientRepo := &fakeClientRepo{clients: clients}
	senderRepo := newFakeSenderRepo()
	base := newFakeTaskRepo()

	winner := "rfc:RACE"
	base.processed[winner] = &domain.ProcessedEmail{
		MessageID: winner, HeliosTaskID: &winner, Status: domain.ProcessedCreated,
	}
	repo := &racingTaskRepo{fakeTaskRepo: base, misses: 1}

	allow := allowlist.NewService(&fakeAllowlistRepo{snap: snap}, nil)
	contacts := contact.NewService(clientRepo)
	tri := triage.NewService(senderRepo, clientRepo)
	svc := NewService(allow, contacts, tri, repo, ThreadModePerEmail)

	res, err := svc.Ingest(context.Background(), &domain.InboundEmail{
		MessageID: winner,
		Sender:    "jane@example.com",
		Subject:   "Hi",
	})
	require.NoError(t, err)
	assert.False(t, res.Processed)
	assert.Equal(t, domain.ProcessedDuplicate, res.Reason)
	require.NotNil(t, res.HeliosTaskID)
	assert.Equal(t, winner, *res.HeliosTaskID)
}

func TestIngestTruncationKeepsValidUTF8(t *testing.T) {
	snap, clients := allowJane()
	svc, tasks, _ := newTestService(ThreadModePerEmail, clients, snap)

	content := strings.Repeat("€", 600)
	res, err := svc.Ingest(context.Background(), &domain.InboundEmail{
		MessageID: "rfc:UTF8",
		Sender:    "jane@example.com",
		Subject:   strings.Repeat("ü", 510),
		Content:   content,
	})
	require.NoError(t, err)
	require.True(t, res.Processed)

	task := tasks.tasks["rfc:UTF8"]
	require.NotNil(t, task)
	assert.True(t, utf8.ValidString(task.Subject))
	assert.True(t, utf8.ValidString(task.Snippet))
	assert.Equal(t, 500, utf8.RuneCountInString(task.Subject))
	assert.Equal(t, 500, utf8.RuneCountInString(task.Snippet))
	assert.Equal(t, content, task.Body)
}

func TestTriageRepeatObservationBumpsHits(t *testing.T) {
	clientRepo := &fakeClientRepo{}
	senderRepo := newFakeSenderRepo()
	tri := triage.NewService(senderRepo, clientRepo)
	ctx := context.Background()

	first, err := tri.Record(ctx, "Eve+x@Unknown.com", "m1", "Hello")
	require.NoError(t, err)
	assert.Equal(t, "eve@unknown.com", first.Email)
	assert.Equal(t, 1, first.Hits)

	again, err := tri.Record(ctx, "eve@unknown.com", "m1", "Hello again")
	require.NoError(t, err)
	assert.Equal(t, 2, again.Hits)
	assert.Equal(t, "Hello again", again.LastSubject)
	assert.Len(t, senderRepo.rows, 1)
}
