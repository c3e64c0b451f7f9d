package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/classlab/gradeflow/internal/breaker"
	"github.com/classlab/gradeflow/internal/config"
	"github.com/classlab/gradeflow/internal/domain"
	"github.com/classlab/gradeflow/internal/queue"
	"github.com/classlab/gradeflow/internal/repository"
)

// stubQueueStore is a minimal in-memory queue.Store for handler tests.
type stubQueueStore struct {
	mu      sync.Mutex
	jobs    map[string]domain.Job
	waiting []string
}

func newStubQueueStore() *stubQueueStore {
	return &stubQueueStore{jobs: make(map[string]domain.Job)}
}

func (s *stubQueueStore) SaveJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *stubQueueStore) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	return &job, nil
}

func (s *stubQueueStore) PushWaiting(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting = append(s.waiting, id)
	return nil
}

func (s *stubQueueStore) PopWaiting(context.Context) (string, error) { return "", nil }

func (s *stubQueueStore) PushDelayed(context.Context, string, time.Time) error { return nil }

func (s *stubQueueStore) PopDueDelayed(context.Context, time.Time) ([]string, error) {
	return nil, nil
}

func (s *stubQueueStore) Heartbeat(context.Context, string, time.Time) error { return nil }

func (s *stubQueueStore) ClearActive(context.Context, string) error { return nil }

func (s *stubQueueStore) StaleActive(context.Context, time.Time) ([]string, error) {
	return nil, nil
}

func (s *stubQueueStore) MarkTerminal(context.Context, string, domain.JobState) error { return nil }

func (s *stubQueueStore) Counts(context.Context) (domain.QueueCounts, error) {
	return domain.QueueCounts{}, nil
}

func newGradingRouter(t *testing.T, store *memObjectStorage) (*gin.Engine, *stubQueueStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "gradeflow.db"),
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		AutoMigrate:  true,
	})
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}

	qs := newStubQueueStore()
	brk := breaker.New(nil, nil)
	q := queue.New(qs, brk, config.QueueConfig{MaxAttempts: 3}, nil)

	h := NewGradingHandler(q, repository.NewSubmissionRepository(db), repository.NewFeedbackRepository(db), store)
	r := gin.New()
	r.POST("/grading-jobs", h.CreateJob)
	return r, qs
}

func postJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateJob_UnknownStorageKeyRejected(t *testing.T) {
	r, qs := newGradingRouter(t, newMemObjectStorage())

	rec := postJSON(r, "/grading-jobs", `{
		"assignment_id": "asn-1",
		"user_id": "user-1",
		"content_type": "document",
		"storage_key": "submissions/never-uploaded.pdf"
	}`)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(qs.waiting) != 0 {
		t.Fatal("nothing may be enqueued for a missing storage key")
	}
}

func TestCreateJob_UploadedStorageKeyAccepted(t *testing.T) {
	store := newMemObjectStorage()
	store.objects["submissions/essay.pdf"] = []byte("%PDF-1.4 fake")
	r, qs := newGradingRouter(t, store)

	rec := postJSON(r, "/grading-jobs", `{
		"assignment_id": "asn-1",
		"user_id": "user-1",
		"content_type": "document",
		"storage_key": "submissions/essay.pdf",
		"file_name": "essay.pdf"
	}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		JobID        string `json:"job_id"`
		SubmissionID string `json:"submission_id"`
		State        string `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.JobID == "" || resp.SubmissionID == "" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.State != string(domain.JobStateWaiting) {
		t.Fatalf("state = %q, want waiting", resp.State)
	}
	if len(qs.waiting) != 1 {
		t.Fatalf("waiting = %d jobs, want 1", len(qs.waiting))
	}
}

func TestCreateJob_NeitherContentFieldRejected(t *testing.T) {
	r, _ := newGradingRouter(t, newMemObjectStorage())

	rec := postJSON(r, "/grading-jobs", `{
		"assignment_id": "asn-1",
		"user_id": "user-1",
		"content_type": "text"
	}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
