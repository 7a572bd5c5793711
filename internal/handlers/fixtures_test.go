package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aviz85/gemini-video-playground/internal/auth"
	"github.com/aviz85/gemini-video-playground/internal/batches"
	"github.com/aviz85/gemini-video-playground/internal/gemini"
	"github.com/aviz85/gemini-video-playground/internal/models"
	"github.com/aviz85/gemini-video-playground/internal/repositories"
	"github.com/aviz85/gemini-video-playground/internal/search"
	"github.com/aviz85/gemini-video-playground/internal/videos"
)

type inMemoryUserStore struct {
	mu    sync.Mutex
	users map[string]models.User
}

func newInMemoryUserStore() *inMemoryUserStore {
	return &inMemoryUserStore{users: make(map[string]models.User)}
}

func (s *inMemoryUserStore) Create(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Email]; exists {
		return repositories.ErrConflict
	}
	s.users[user.Email] = user
	return nil
}

func (s *inMemoryUserStore) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[email]
	if !ok {
		return models.User{}, repositories.ErrNotFound
	}
	return user, nil
}

func (s *inMemoryUserStore) FindByID(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.ID == id {
			return user, nil
		}
	}
	return models.User{}, repositories.ErrNotFound
}

// memoryCatalog stores groups, videos, prompts and batches.
type memoryCatalog struct {
	mu      sync.Mutex
	groups  map[string]models.VideoGroup
	videos  map[string]models.Video
	prompts map[string]models.Prompt
	batches map[string]models.AnalysisBatch
	tasks   []models.AnalysisTask
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{
		groups:  map[string]models.VideoGroup{},
		videos:  map[string]models.Video{},
		prompts: map[string]models.Prompt{},
		batches: map[string]models.AnalysisBatch{},
	}
}

type groupStore struct{ *memoryCatalog }

func (s groupStore) Create(_ context.Context, group models.VideoGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[group.ID] = group
	return nil
}

func (s groupStore) FindByID(_ context.Context, id string) (models.VideoGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[id]
	if !ok {
		return models.VideoGroup{}, repositories.ErrNotFound
	}
	return group, nil
}

func (s groupStore) ListByOwner(_ context.Context, ownerID string) ([]models.VideoGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.VideoGroup
	for _, group := range s.groups {
		if group.OwnerID == ownerID {
			out = append(out, group)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s groupStore) Delete(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[id]
	if !ok || group.OwnerID != ownerID {
		return repositories.ErrNotFound
	}
	delete(s.groups, id)
	for vid, video := range s.videos {
		if video.GroupID == id {
			delete(s.videos, vid)
		}
	}
	return nil
}

type videoStore struct{ *memoryCatalog }

func (s videoStore) FindByID(_ context.Context, id string) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.videos[id]
	if !ok {
		return models.Video{}, repositories.ErrNotFound
	}
	return video, nil
}

func (s videoStore) ListByGroup(_ context.Context, groupID string) ([]models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Video
	for _, video := range s.videos {
		if video.GroupID == groupID {
			out = append(out, video)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type promptStore struct{ *memoryCatalog }

func (s promptStore) Create(_ context.Context, prompt models.Prompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[prompt.ID] = prompt
	return nil
}

func (s promptStore) FindByID(_ context.Context, id string) (models.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prompt, ok := s.prompts[id]
	if !ok {
		return models.Prompt{}, repositories.ErrNotFound
	}
	return prompt, nil
}

func (s promptStore) ListByOwner(_ context.Context, ownerID string) ([]models.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Prompt
	for _, prompt := range s.prompts {
		if prompt.OwnerID == ownerID {
			out = append(out, prompt)
		}
	}
	return out, nil
}

func (s promptStore) Update(_ context.Context, prompt models.Prompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prompts[prompt.ID]; !ok {
		return repositories.ErrNotFound
	}
	s.prompts[prompt.ID] = prompt
	return nil
}

func (s promptStore) Delete(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prompt, ok := s.prompts[id]
	if !ok || prompt.OwnerID != ownerID {
		return repositories.ErrNotFound
	}
	delete(s.prompts, id)
	return nil
}

type batchStore struct{ *memoryCatalog }

func (s batchStore) CreateBatch(_ context.Context, batch models.AnalysisBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = batch
	return nil
}

func (s batchStore) CreateTask(_ context.Context, task models.AnalysisTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	return nil
}

func (s batchStore) FindBatch(_ context.Context, id string) (models.AnalysisBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return models.AnalysisBatch{}, repositories.ErrNotFound
	}
	return batch, nil
}

func (s batchStore) ListBatches(_ context.Context, ownerID string) ([]models.AnalysisBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AnalysisBatch
	for _, batch := range s.batches {
		if batch.OwnerID == ownerID {
			out = append(out, batch)
		}
	}
	return out, nil
}

func (s batchStore) ListTaskDetails(_ context.Context, batchID string) ([]models.TaskDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TaskDetail
	for _, task := range s.tasks {
		if task.BatchID != batchID {
			continue
		}
		out = append(out, models.TaskDetail{Task: task, Video: s.videos[task.VideoID], Prompt: s.prompts[task.PromptID]})
	}
	return out, nil
}

type ingestorStub struct {
	catalog *memoryCatalog
	sources []videos.Source
	err     error
	report  videos.ImportReport
}

func (s *ingestorStub) Ingest(ctx context.Context, session auth.Session, groupID string, src videos.Source) (models.Video, error) {
	if s.err != nil {
		return models.Video{}, s.err
	}
	group, err := groupStore{s.catalog}.FindByID(ctx, groupID)
	if err != nil || group.OwnerID != session.UserID {
		return models.Video{}, repositories.ErrNotFound
	}
	s.sources = append(s.sources, src)

	video := models.Video{
		ID:              "video-" + string(rune('a'+len(s.sources)-1)),
		GroupID:         groupID,
		ExternalFileURI: "https://files.example.com/x",
		ThumbnailRef:    "videos/thumbnails/x.jpg",
		Metadata:        map[string]any{"title": "clip"},
		OwnerID:         session.UserID,
		IsRed:           group.IsRed,
	}
	s.catalog.mu.Lock()
	s.catalog.videos[video.ID] = video
	s.catalog.mu.Unlock()
	return video, nil
}

func (s *ingestorStub) ImportCSV(ctx context.Context, session auth.Session, groupID string, r io.Reader) (videos.ImportReport, error) {
	if s.err != nil {
		return videos.ImportReport{}, s.err
	}
	if _, err := io.ReadAll(r); err != nil {
		return videos.ImportReport{}, err
	}
	return s.report, nil
}

type schedulerStub struct {
	queued []string
	err    error
}

func (s *schedulerStub) Enqueue(_ context.Context, batchID string) error {
	if s.err != nil {
		return s.err
	}
	s.queued = append(s.queued, batchID)
	return nil
}

type modelListerStub struct {
	models []gemini.Model
	err    error
}

func (m modelListerStub) GenerativeModels(context.Context) ([]gemini.Model, error) {
	return m.models, m.err
}

type searcherStub struct {
	opts  search.Options
	query string
	hits  []search.Hit
}

func (s *searcherStub) Search(_ context.Context, _ auth.Session, query string, opts search.Options) ([]search.Hit, error) {
	s.query = query
	s.opts = opts
	if query == "" {
		return nil, search.ErrEmptyQuery
	}
	return s.hits, nil
}

type thumbnailResolver struct{}

func (thumbnailResolver) PublicURL(key string) string { return "https://cdn.example.com/" + key }

// testAPI is a router over in-memory collaborators with one signed-in operator.
type testAPI struct {
	router    http.Handler
	catalog   *memoryCatalog
	users     *inMemoryUserStore
	ingestor  *ingestorStub
	scheduler *schedulerStub
	searcher  *searcherStub
	token     string
	userID    string
}

func newTestAPI(t *testing.T, overrides ...func(*Dependencies)) *testAPI {
	t.Helper()

	catalog := newMemoryCatalog()
	users := newInMemoryUserStore()
	manager := auth.NewManager(time.Minute, time.Hour, auth.NewInMemorySessionStore())
	ingestor := &ingestorStub{catalog: catalog}
	scheduler := &schedulerStub{}
	searcher := &searcherStub{}

	user := models.User{ID: "11111111-1111-1111-1111-111111111111", Email: "operator@example.com"}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	tokens, err := manager.Issue(context.Background(), user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	deps := Dependencies{
		Users:     users,
		Sessions:  manager,
		Groups:    groupStore{catalog},
		Videos:    videoStore{catalog},
		Ingestor:  ingestor,
		Prompts:   promptStore{catalog},
		Batches:   batchStore{catalog},
		Builder:   batches.NewBuilder(videoStore{catalog}, videoStore{catalog}, promptStore{catalog}, batchStore{catalog}),
		Scheduler: scheduler,
		Models: modelListerStub{models: []gemini.Model{
			{Name: "models/gemini-1.5-pro", SupportedGenerationMethods: []string{"generateContent"}},
		}},
		DefaultModel: "models/gemini-1.5-pro",
		Search:       searcher,
		Thumbnails:   thumbnailResolver{},
	}
	for _, override := range overrides {
		override(&deps)
	}
	router := NewRouter(deps)

	return &testAPI{
		router:    router,
		catalog:   catalog,
		users:     users,
		ingestor:  ingestor,
		scheduler: scheduler,
		searcher:  searcher,
		token:     tokens.AccessToken,
		userID:    user.ID,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d got %d: %s", status, rec.Code, rec.Body.String())
	}
}
