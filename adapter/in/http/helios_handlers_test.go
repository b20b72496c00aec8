package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"helios_server/core/domain"
	"helios_server/core/service/allowlist"
	"helios_server/core/service/contact"
	"helios_server/core/service/ingest"
	"helios_server/core/service/triage"
	"helios_server/infra/middleware"
)

// In-memory fakes backing the handler stack.

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
	byEmail map[string]*domain.Client
}

func (f *fakeClientRepo) Create(ctx context.Context, c *domain.Client) error    { return nil }
func (f *fakeClientRepo) Update(ctx context.Context, c *domain.Client) error    { return nil }
func (f *fakeClientRepo) SoftDelete(ctx context.Context, id uuid.UUID) error    { return nil }
func (f *fakeClientRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	return nil, nil
}
func (f *fakeClientRepo) List(ctx context.Context, filter *domain.ClientFilter) ([]*domain.Client, int, error) {
	return nil, 0, nil
}
func (f *fakeClientRepo) SetEmails(ctx context.Context, id uuid.UUID, emails []string) error {
	return nil
}
func (f *fakeClientRepo) SetDomains(ctx context.Context, id uuid.UUID, domains []domain.ClientDomain) error {
	return nil
}
func (f *fakeClientRepo) AddEmail(ctx context.Context, id uuid.UUID, email string) error { return nil }
func (f *fakeClientRepo) AddDomain(ctx context.Context, id uuid.UUID, d domain.ClientDomain) error {
	return nil
}
func (f *fakeClientRepo) FindByEmail(ctx context.Context, email string) (*domain.Client, error) {
	return f.byEmail[email], nil
}
func (f *fakeClientRepo) FindByExactDomain(ctx context.Context, dom string) (*domain.Client, error) {
	return nil, nil
}
func (f *fakeClientRepo) FindByWildcardDomain(ctx context.Context, dom string) (*domain.Client, error) {
	return nil, nil
}

type fakeSenderRepo struct {
	rows map[string]*domain.UnknownSender
}

func (f *fakeSenderRepo) Upsert(ctx context.Context, s *domain.UnknownSender, matched *uuid.UUID) (*domain.UnknownSender, error) {
	key := s.Email + "|" + s.MessageID
	if prior, ok := f.rows[key]; ok {
		prior.Hits++
		prior.LastSeen = s.LastSeen
		return prior, nil
	}
	f.rows[key] = s
	return s, nil
}

func (f *fakeSenderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.UnknownSender, error) {
	for _, s := range f.rows {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeSenderRepo) List(ctx context.Context, filter *domain.UnknownSenderFilter) ([]*domain.UnknownSender, int, error) {
	var out []*domain.UnknownSender
	for _, s := range f.rows {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (f *fakeSenderRepo) Resolve(ctx context.Context, id uuid.UUID, action string, clientID *uuid.UUID, wildcard bool) error {
	return nil
}

type fakeTaskRepo struct {
	tasks  map[string]*domain.EmailTask
	ledger map[string]*domain.ProcessedEmail
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{
		tasks:  map[string]*domain.EmailTask{},
		ledger: map[string]*domain.ProcessedEmail{},
	}
}

func (f *fakeTaskRepo) GetProcessed(ctx context.Context, messageID string) (*domain.ProcessedEmail, error) {
	return f.ledger[messageID], nil
}

func (f *fakeTaskRepo) RecordProcessed(ctx context.Context, p *domain.ProcessedEmail) error {
	f.ledger[p.MessageID] = p
	return nil
}

func (f *fakeTaskRepo) CreateTask(ctx context.Context, task *domain.EmailTask, meta *domain.TaskMeta, ledger *domain.ProcessedEmail) error {
	f.tasks[task.ID] = task
	if ledger != nil {
		f.ledger[ledger.MessageID] = ledger
	}
	return nil
}

func (f *fakeTaskRepo) GetTask(ctx context.Context, id string) (*domain.EmailTask, error) {
	return f.tasks[id], nil
}

func (f *fakeTaskRepo) ListLatest(ctx context.Context, filter *domain.EmailTaskFilter) ([]*domain.EmailTask, int, error) {
	var out []*domain.EmailTask
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, len(out), nil
}

func (f *fakeTaskRepo) GetTaskMeta(ctx context.Context, taskID string) (*domain.TaskMeta, error) {
	return nil, nil
}

func (f *fakeTaskRepo) UpsertTaskMeta(ctx context.Context, meta *domain.TaskMeta) error { return nil }

func (f *fakeTaskRepo) GetThreadTask(ctx context.Context, threadID string) (*domain.ThreadTask, error) {
	return nil, nil
}

func (f *fakeTaskRepo) AnnotateThreadTask(ctx context.Context, threadID, taskID, note string, lastEmailAt time.Time, ledger *domain.ProcessedEmail) error {
	return nil
}

func newTestApp(t *testing.T) (*fiber.App, *fakeTaskRepo) {
	t.Helper()

	allowRepo := &fakeAllowlistRepo{snap: domain.AllowlistSnapshot{
		Version:     3,
		Emails:      []string{"pm@acme.com"},
		Domains:     []domain.ClientDomain{{Domain: "acme.com", Wildcard: false}},
		GeneratedAt: time.Now().UTC(),
	}}
	clientRepo := &fakeClientRepo{byEmail: map[string]*domain.Client{}}
	senderRepo := &fakeSenderRepo{rows: map[string]*domain.UnknownSender{}}
	taskRepo := newFakeTaskRepo()

	allowSvc := allowlist.NewService(allowRepo, nil)
	contactSvc := contact.NewService(clientRepo)
	triageSvc := triage.NewService(senderRepo, clientRepo)
	ingestSvc := ingest.NewService(allowSvc, contactSvc, triageSvc, taskRepo, ingest.ThreadModePerEmail)

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler()})
	api := app.Group("/api")
	NewAllowlistHandler(allowSvc).Register(api)
	NewIngestHandler(ingestSvc, taskRepo).Register(api)
	NewSenderHandler(triageSvc).Register(api)
	return app, taskRepo
}

func postJSON(t *testing.T, app *fiber.App, path string, payload any) (int, map[string]any) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, decoded
}

func TestTaskFromEmailCreates(t *testing.T) {
	app, repo := newTestApp(t)

	status, body := postJSON(t, app, "/api/tasks/from-email", map[string]any{
		"message_id": "rfc:<kickoff@acme.com>",
		"sender":     "pm@acme.com",
		"subject":    "Kickoff",
	})

	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["processed"] != true || body["reason"] != "created" {
		t.Errorf("body = %v", body)
	}
	if _, ok := repo.tasks["rfc:<kickoff@acme.com>"]; !ok {
		t.Error("task not persisted")
	}
}

func TestTaskFromEmailDuplicateIs200(t *testing.T) {
	app, _ := newTestApp(t)

	payload := map[string]any{
		"message_id": "rfc:<dup@acme.com>",
		"sender":     "pm@acme.com",
		"subject":    "Once",
	}
	postJSON(t, app, "/api/tasks/from-email", payload)
	status, body := postJSON(t, app, "/api/tasks/from-email", payload)

	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["processed"] != false || body["reason"] != "duplicate" {
		t.Errorf("body = %v", body)
	}
}

func TestTaskFromEmailRejectedSenderIs200(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := postJSON(t, app, "/api/tasks/from-email", map[string]any{
		"message_id": "rfc:<cold@stranger.io>",
		"sender":     "sales@stranger.io",
		"subject":    "Buy now",
	})

	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["reason"] != "rejected_allowlist" {
		t.Errorf("reason = %v, want rejected_allowlist", body["reason"])
	}
}

func TestTaskFromEmailValidationIs400(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := postJSON(t, app, "/api/tasks/from-email", map[string]any{
		"message_id": "x",
		"sender":     "pm@acme.com",
	})
	if status != 400 {
		t.Fatalf("short message_id: status = %d, want 400", status)
	}
	if body["success"] != false {
		t.Errorf("body = %v", body)
	}

	status, _ = postJSON(t, app, "/api/tasks/from-email", map[string]any{
		"message_id": "rfc:<no-at@x>",
		"sender":     "not-an-email",
	})
	if status != 400 {
		t.Fatalf("bad sender: status = %d, want 400", status)
	}
}

func TestGetAllowlistETagFlow(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest("GET", "/api/allowlist", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	var first map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	etag, _ := first["etag"].(string)
	if etag != `W/"3"` {
		t.Fatalf("etag = %q", etag)
	}
	if first["version"] != float64(3) {
		t.Errorf("version = %v", first["version"])
	}

	req = httptest.NewRequest("GET", "/api/allowlist?ifNoneMatch="+url.QueryEscape(etag), nil)
	resp2, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp2.Body.Close()

	var second map[string]any
	if err := json.NewDecoder(resp2.Body).Decode(&second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second["not_modified"] != true {
		t.Errorf("second read = %v, want not_modified", second)
	}
	if _, present := second["emails"]; present {
		t.Error("not_modified response must not carry emails")
	}
}

func TestUnknownSendersRecordedOnRejection(t *testing.T) {
	app, _ := newTestApp(t)

	postJSON(t, app, "/api/tasks/from-email", map[string]any{
		"message_id": "rfc:<cold@stranger.io>",
		"sender":     "sales@stranger.io",
		"subject":    "Buy now",
	})

	req := httptest.NewRequest("GET", "/api/unknown-senders/", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["total"] != float64(1) {
		t.Errorf("total = %v, want 1", body["total"])
	}
}
