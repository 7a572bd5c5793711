package handlers

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aviz85/gemini-video-playground/internal/batches"
	"github.com/aviz85/gemini-video-playground/internal/models"
	"github.com/aviz85/gemini-video-playground/internal/results"
	"github.com/aviz85/gemini-video-playground/internal/search"
	"github.com/aviz85/gemini-video-playground/internal/videos"
)

func TestPrivateRoutesRequireSession(t *testing.T) {
	api := newTestAPI(t)
	for _, path := range []string{"/api/v1/groups", "/api/v1/prompts", "/api/v1/batches", "/api/v1/models"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		api.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", path, rec.Code)
		}
	}
}

func TestGroupLifecycle(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/groups", map[string]any{"name": "  Sports ", "description": "clips", "isRed": true})
	expectStatus(t, rec, http.StatusCreated)
	var group models.VideoGroup
	decodeBody(t, rec, &group)
	if group.Name != "Sports" || !group.IsRed || group.OwnerID != api.userID {
		t.Fatalf("unexpected group %+v", group)
	}

	rec = api.do(t, http.MethodPost, "/api/v1/groups", map[string]any{"name": ""})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = api.do(t, http.MethodGet, "/api/v1/groups", nil)
	expectStatus(t, rec, http.StatusOK)
	var list struct {
		Groups []models.VideoGroup `json:"groups"`
	}
	decodeBody(t, rec, &list)
	if len(list.Groups) != 1 {
		t.Fatalf("expected one group got %d", len(list.Groups))
	}

	rec = api.do(t, http.MethodPost, "/api/v1/groups/"+group.ID+"/videos/url", map[string]any{"url": "https://cdn.example.com/a.mp4", "title": "Goal", "metadata": map[string]any{"score": 10}})
	expectStatus(t, rec, http.StatusCreated)
	src, ok := api.ingestor.sources[0].(videos.URLSource)
	if !ok {
		t.Fatalf("expected url source got %T", api.ingestor.sources[0])
	}
	if src.Metadata["title"] != "Goal" || src.Metadata["score"] != float64(10) {
		t.Fatalf("unexpected metadata %v", src.Metadata)
	}

	rec = api.do(t, http.MethodGet, "/api/v1/groups/"+group.ID+"/videos", nil)
	expectStatus(t, rec, http.StatusOK)
	if strings.Contains(rec.Body.String(), "thumbnailUrl") {
		t.Fatalf("red group videos must not expose thumbnails: %s", rec.Body.String())
	}

	rec = api.do(t, http.MethodDelete, "/api/v1/groups/"+group.ID, nil)
	expectStatus(t, rec, http.StatusNoContent)

	rec = api.do(t, http.MethodGet, "/api/v1/groups/"+group.ID, nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestGroupsAreOwnerScoped(t *testing.T) {
	api := newTestAPI(t)
	api.catalog.groups["g-other"] = models.VideoGroup{ID: "g-other", Name: "theirs", OwnerID: "someone-else"}

	expectStatus(t, api.do(t, http.MethodGet, "/api/v1/groups/g-other", nil), http.StatusNotFound)
	expectStatus(t, api.do(t, http.MethodDelete, "/api/v1/groups/g-other", nil), http.StatusNotFound)
	expectStatus(t, api.do(t, http.MethodPost, "/api/v1/groups/g-other/videos/url", map[string]any{"url": "https://cdn.example.com/a.mp4"}), http.StatusNotFound)
}

func TestIngestURLValidation(t *testing.T) {
	api := newTestAPI(t)
	api.catalog.groups["g1"] = models.VideoGroup{ID: "g1", OwnerID: api.userID}

	rec := api.do(t, http.MethodPost, "/api/v1/groups/g1/videos/url", map[string]any{"url": "not a url"})
	expectStatus(t, rec, http.StatusBadRequest)
	if len(api.ingestor.sources) != 0 {
		t.Fatal("invalid urls must be rejected before ingestion")
	}

	api.ingestor.err = fmt.Errorf("inspect: %w", videos.ErrNotVideo)
	rec = api.do(t, http.MethodPost, "/api/v1/groups/g1/videos/url", map[string]any{"url": "https://example.com/page.html"})
	expectStatus(t, rec, http.StatusBadRequest)

	api.ingestor.err = fmt.Errorf("download: %w", videos.ErrTooLarge)
	rec = api.do(t, http.MethodPost, "/api/v1/groups/g1/videos/url", map[string]any{"url": "https://example.com/huge.mp4"})
	expectStatus(t, rec, http.StatusRequestEntityTooLarge)
}

func multipartRequest(t *testing.T, path, token, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUploadAndImport(t *testing.T) {
	api := newTestAPI(t)
	api.catalog.groups["g1"] = models.VideoGroup{ID: "g1", OwnerID: api.userID}

	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, multipartRequest(t, "/api/v1/groups/g1/videos/upload", api.token, "clip.mp4", "video-bytes"))
	expectStatus(t, rec, http.StatusCreated)
	var video videoResponse
	decodeBody(t, rec, &video)
	if video.ThumbnailURL != "https://cdn.example.com/videos/thumbnails/x.jpg" {
		t.Fatalf("unexpected thumbnail url %q", video.ThumbnailURL)
	}
	upload, ok := api.ingestor.sources[0].(videos.UploadSource)
	if !ok || upload.Filename != "clip.mp4" {
		t.Fatalf("unexpected upload source %+v", api.ingestor.sources[0])
	}

	api.ingestor.report = videos.ImportReport{Format: "generic", Succeeded: 1, Failed: 1}
	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, multipartRequest(t, "/api/v1/groups/g1/videos/import", api.token, "videos.csv", "video_url\nhttps://x/a.mp4\n"))
	expectStatus(t, rec, http.StatusOK)
	var report videos.ImportReport
	decodeBody(t, rec, &report)
	if report.Succeeded != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	api.ingestor.err = videos.ErrMissingURLColumn
	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, multipartRequest(t, "/api/v1/groups/g1/videos/import", api.token, "videos.csv", "title\nx\n"))
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestOversizedUploadsAreRejected(t *testing.T) {
	api := newTestAPI(t, func(deps *Dependencies) { deps.MaxUploadBytes = 1 })
	api.catalog.groups["g1"] = models.VideoGroup{ID: "g1", OwnerID: api.userID}

	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, multipartRequest(t, "/api/v1/groups/g1/videos/upload", api.token, "clip.mp4", strings.Repeat("v", 2<<20)))
	expectStatus(t, rec, http.StatusRequestEntityTooLarge)
	if len(api.ingestor.sources) != 0 {
		t.Fatal("oversized uploads must not reach the ingestor")
	}

	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, multipartRequest(t, "/api/v1/groups/g1/videos/import", api.token, "videos.csv", "video_url\n"+strings.Repeat("https://x/a.mp4\n", (maxCSVBytes/16)+1)))
	expectStatus(t, rec, http.StatusRequestEntityTooLarge)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/groups/g1/videos/upload", strings.NewReader("not multipart"))
	req.Header.Set("Authorization", "Bearer "+api.token)
	api.router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestPromptCRUD(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/prompts", map[string]any{"text": " Rate the video ", "description": "quality"})
	expectStatus(t, rec, http.StatusCreated)
	var prompt models.Prompt
	decodeBody(t, rec, &prompt)
	if prompt.Text != "Rate the video" {
		t.Fatalf("expected trimmed text got %q", prompt.Text)
	}

	rec = api.do(t, http.MethodPut, "/api/v1/prompts/"+prompt.ID, map[string]any{"text": "Rate it again"})
	expectStatus(t, rec, http.StatusOK)
	if api.catalog.prompts[prompt.ID].Text != "Rate it again" {
		t.Fatal("expected prompt to be updated")
	}

	rec = api.do(t, http.MethodPut, "/api/v1/prompts/"+prompt.ID, map[string]any{"text": "   "})
	expectStatus(t, rec, http.StatusBadRequest)

	expectStatus(t, api.do(t, http.MethodDelete, "/api/v1/prompts/"+prompt.ID, nil), http.StatusNoContent)
	expectStatus(t, api.do(t, http.MethodGet, "/api/v1/prompts/"+prompt.ID, nil), http.StatusNotFound)
}

const (
	videoOne  = "aaaaaaaa-0000-0000-0000-000000000001"
	videoTwo  = "aaaaaaaa-0000-0000-0000-000000000002"
	promptOne = "bbbbbbbb-0000-0000-0000-000000000001"
	promptTwo = "bbbbbbbb-0000-0000-0000-000000000002"
)

func seedBatchInputs(api *testAPI) {
	api.catalog.videos[videoOne] = models.Video{ID: videoOne, OwnerID: api.userID, Metadata: map[string]any{"title": "one", "likes": 10}, ThumbnailRef: "videos/thumbnails/1.jpg"}
	api.catalog.videos[videoTwo] = models.Video{ID: videoTwo, OwnerID: api.userID, Metadata: map[string]any{"title": "two", "likes": 30}}
	api.catalog.prompts[promptOne] = models.Prompt{ID: promptOne, OwnerID: api.userID, Text: "first"}
	api.catalog.prompts[promptTwo] = models.Prompt{ID: promptTwo, OwnerID: api.userID, Text: "second"}
}

func TestBatchCreateAndRun(t *testing.T) {
	api := newTestAPI(t)
	seedBatchInputs(api)

	rec := api.do(t, http.MethodPost, "/api/v1/batches", map[string]any{
		"videoIds":  []string{videoOne, videoTwo},
		"promptIds": []string{promptOne, promptTwo},
		"modelName": "models/gemini-1.5-pro",
		"run":       true,
	})
	expectStatus(t, rec, http.StatusCreated)
	var created createBatchResponse
	decodeBody(t, rec, &created)
	if created.Report.Created != 4 || !created.Queued || created.Batch.TotalVideos != 2 {
		t.Fatalf("unexpected create response %+v", created)
	}
	if len(api.catalog.tasks) != 4 {
		t.Fatalf("expected 4 tasks got %d", len(api.catalog.tasks))
	}

	rec = api.do(t, http.MethodPost, "/api/v1/batches/"+created.Batch.ID+"/run", nil)
	expectStatus(t, rec, http.StatusAccepted)
	if len(api.scheduler.queued) != 2 {
		t.Fatalf("expected batch queued twice got %v", api.scheduler.queued)
	}

	api.scheduler.err = batches.ErrAlreadyQueued
	rec = api.do(t, http.MethodPost, "/api/v1/batches/"+created.Batch.ID+"/run", nil)
	expectStatus(t, rec, http.StatusConflict)
}

func TestBatchCreateValidation(t *testing.T) {
	api := newTestAPI(t)
	seedBatchInputs(api)

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "no prompts", body: map[string]any{"videoIds": []string{videoOne}, "modelName": "m"}},
		{name: "no videos", body: map[string]any{"promptIds": []string{promptOne}, "modelName": "m"}},
		{name: "malformed id", body: map[string]any{"videoIds": []string{"x"}, "promptIds": []string{promptOne}, "modelName": "m"}},
		{name: "unknown video", body: map[string]any{"videoIds": []string{"aaaaaaaa-0000-0000-0000-000000000009"}, "promptIds": []string{promptOne}, "modelName": "m"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expectStatus(t, api.do(t, http.MethodPost, "/api/v1/batches", tc.body), http.StatusBadRequest)
		})
	}
	if len(api.catalog.batches) != 0 {
		t.Fatal("rejected requests must not create batches")
	}
}

func TestBatchCreateUsesDefaultModel(t *testing.T) {
	api := newTestAPI(t)
	seedBatchInputs(api)

	rec := api.do(t, http.MethodPost, "/api/v1/batches", map[string]any{
		"videoIds":  []string{videoOne},
		"promptIds": []string{promptOne},
	})
	expectStatus(t, rec, http.StatusCreated)
	var created createBatchResponse
	decodeBody(t, rec, &created)
	if created.Batch.ModelName != "models/gemini-1.5-pro" {
		t.Fatalf("expected default model, got %q", created.Batch.ModelName)
	}
}

func completeTasks(api *testAPI, analysis map[string]string) {
	now := time.Now()
	for i, task := range api.catalog.tasks {
		text, ok := analysis[task.VideoID+"/"+task.PromptID]
		if !ok {
			api.catalog.tasks[i].Status = models.TaskStatusFailed
			api.catalog.tasks[i].Error = "quota exceeded"
			continue
		}
		api.catalog.tasks[i].Status = models.TaskStatusCompleted
		api.catalog.tasks[i].Result = &models.TaskResult{Analysis: text}
		api.catalog.tasks[i].CompletedAt = &now
	}
}

func TestBatchResultsStatsAndCorrelation(t *testing.T) {
	api := newTestAPI(t)
	seedBatchInputs(api)

	rec := api.do(t, http.MethodPost, "/api/v1/batches", map[string]any{
		"videoIds":  []string{videoOne, videoTwo},
		"promptIds": []string{promptOne, promptTwo},
		"modelName": "m",
	})
	expectStatus(t, rec, http.StatusCreated)
	var created createBatchResponse
	decodeBody(t, rec, &created)
	if created.Queued {
		t.Fatal("batch must not be queued unless requested")
	}
	batchPath := "/api/v1/batches/" + created.Batch.ID

	completeTasks(api, map[string]string{
		videoOne + "/" + promptOne: "```json\n{\"quality\": {\"score\": 1}}\n```",
		videoTwo + "/" + promptOne: "```json\n{\"quality\": {\"score\": 3}}\n```",
		videoOne + "/" + promptTwo: "not json",
	})

	rec = api.do(t, http.MethodGet, batchPath+"/results", nil)
	expectStatus(t, rec, http.StatusOK)
	var res struct {
		Results []results.View `json:"results"`
	}
	decodeBody(t, rec, &res)
	if len(res.Results) != 3 {
		t.Fatalf("expected completed results only, got %d", len(res.Results))
	}
	var sawThumbnail, sawParseError bool
	for _, view := range res.Results {
		if view.ThumbnailURL == "https://cdn.example.com/videos/thumbnails/1.jpg" {
			sawThumbnail = true
		}
		if view.ParseError != "" {
			sawParseError = true
		}
	}
	if !sawThumbnail || !sawParseError {
		t.Fatalf("unexpected views %+v", res.Results)
	}

	rec = api.do(t, http.MethodGet, batchPath+"/results?status=failed", nil)
	expectStatus(t, rec, http.StatusOK)
	decodeBody(t, rec, &res)
	if len(res.Results) != 1 || res.Results[0].Error != "quota exceeded" {
		t.Fatalf("unexpected failed results %+v", res.Results)
	}

	expectStatus(t, api.do(t, http.MethodGet, batchPath+"/results?depth=0", nil), http.StatusBadRequest)

	rec = api.do(t, http.MethodGet, batchPath+"/stats", nil)
	expectStatus(t, rec, http.StatusOK)
	var stats struct {
		Stats results.Stats `json:"stats"`
	}
	decodeBody(t, rec, &stats)
	if stats.Stats != (results.Stats{Total: 4, Completed: 3, Failed: 1, CompletionPct: 75}) {
		t.Fatalf("unexpected stats %+v", stats.Stats)
	}

	rec = api.do(t, http.MethodGet, batchPath+"/correlation?key=likes", nil)
	expectStatus(t, rec, http.StatusOK)
	var corr results.Correlation
	decodeBody(t, rec, &corr)
	if corr.N != 2 || corr.Coefficient < 0.999 {
		t.Fatalf("unexpected correlation %+v", corr)
	}

	expectStatus(t, api.do(t, http.MethodGet, batchPath+"/correlation", nil), http.StatusBadRequest)
	expectStatus(t, api.do(t, http.MethodGet, batchPath+"/correlation?key=missing", nil), http.StatusUnprocessableEntity)
}

func TestBatchesAreOwnerScoped(t *testing.T) {
	api := newTestAPI(t)
	api.catalog.batches["b-other"] = models.AnalysisBatch{ID: "b-other", OwnerID: "someone-else"}

	expectStatus(t, api.do(t, http.MethodGet, "/api/v1/batches/b-other", nil), http.StatusNotFound)
	expectStatus(t, api.do(t, http.MethodPost, "/api/v1/batches/b-other/run", nil), http.StatusNotFound)
	if len(api.scheduler.queued) != 0 {
		t.Fatal("foreign batches must not be queued")
	}
}

func TestModelsList(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/api/v1/models", nil)
	expectStatus(t, rec, http.StatusOK)
	var resp struct {
		Models  []map[string]any `json:"models"`
		Default string           `json:"default"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Models) != 1 || resp.Default != "models/gemini-1.5-pro" {
		t.Fatalf("unexpected models response %+v", resp)
	}
}

func TestSearchEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.searcher.hits = []search.Hit{{TaskID: "t1", Summary: "cats"}}

	rec := api.do(t, http.MethodPost, "/api/v1/search", map[string]any{"query": "cats", "finalK": 3})
	expectStatus(t, rec, http.StatusOK)
	if api.searcher.opts != (search.Options{InitialK: 30, FinalK: 3}) {
		t.Fatalf("unexpected options %+v", api.searcher.opts)
	}
	if !strings.Contains(rec.Body.String(), `"taskId":"t1"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	expectStatus(t, api.do(t, http.MethodPost, "/api/v1/search", map[string]any{"query": "cats", "initialK": 5}), http.StatusBadRequest)
	expectStatus(t, api.do(t, http.MethodPost, "/api/v1/search", map[string]any{}), http.StatusBadRequest)
}
