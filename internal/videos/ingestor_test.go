package videos

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aviz85/gemini-video-playground/internal/auth"
	"github.com/aviz85/gemini-video-playground/internal/gemini"
	"github.com/aviz85/gemini-video-playground/internal/models"
	"github.com/aviz85/gemini-video-playground/internal/repositories"
	"github.com/aviz85/gemini-video-playground/internal/retry"
)

type fileUploaderStub struct {
	uploaded  map[string]string
	mimeTypes []string
	deleted   []string
	waitErr   error
}

func (s *fileUploaderStub) UploadFile(ctx context.Context, displayName, mimeType string, r io.Reader) (gemini.File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return gemini.File{}, err
	}
	if s.uploaded == nil {
		s.uploaded = make(map[string]string)
	}
	s.uploaded[displayName] = string(data)
	s.mimeTypes = append(s.mimeTypes, mimeType)
	return gemini.File{Name: "files/" + displayName, State: gemini.StateProcessing}, nil
}

func (s *fileUploaderStub) WaitForActive(ctx context.Context, name string, policy retry.Policy) (gemini.File, error) {
	if s.waitErr != nil {
		return gemini.File{}, s.waitErr
	}
	return gemini.File{Name: name, URI: "https://files.example.com/" + name, State: gemini.StateActive}, nil
}

func (s *fileUploaderStub) DeleteFile(ctx context.Context, name string) error {
	s.deleted = append(s.deleted, name)
	return nil
}

type groupFinderStub struct {
	groups map[string]models.VideoGroup
}

func (s *groupFinderStub) FindByID(ctx context.Context, id string) (models.VideoGroup, error) {
	group, ok := s.groups[id]
	if !ok {
		return models.VideoGroup{}, repositories.ErrNotFound
	}
	return group, nil
}

type videoCreatorStub struct {
	created []models.Video
	err     error
}

func (s *videoCreatorStub) Create(ctx context.Context, video models.Video) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, video)
	return nil
}

type thumbnailStorageStub struct {
	saved map[string]string
}

func (s *thumbnailStorageStub) Save(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if s.saved == nil {
		s.saved = make(map[string]string)
	}
	s.saved[key] = contentType + ":" + string(data)
	return key, nil
}

type frameExtractorStub struct {
	calls int
	err   error
}

func (s *frameExtractorStub) Thumbnail(ctx context.Context, path string) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []byte("jpeg"), nil
}

type ingestFixture struct {
	files      *fileUploaderStub
	videos     *videoCreatorStub
	thumbnails *thumbnailStorageStub
	frames     *frameExtractorStub
	ingestor   *Ingestor
	session    auth.Session
}

func newIngestFixture(t *testing.T, downloader Downloader) *ingestFixture {
	t.Helper()
	f := &ingestFixture{
		files:      &fileUploaderStub{},
		videos:     &videoCreatorStub{},
		thumbnails: &thumbnailStorageStub{},
		frames:     &frameExtractorStub{},
		session:    auth.Session{UserID: "user-1", Email: "owner@example.com"},
	}
	groups := &groupFinderStub{groups: map[string]models.VideoGroup{
		"plain":   {ID: "plain", OwnerID: "user-1"},
		"red":     {ID: "red", OwnerID: "user-1", IsRed: true},
		"foreign": {ID: "foreign", OwnerID: "user-2"},
	}}
	f.ingestor = NewIngestor(f.files, groups, f.videos, f.thumbnails, f.frames, downloader, IngestorConfig{
		PollPolicy: retry.Fixed(0, 1),
		TempDir:    t.TempDir(),
	})
	return f
}

func TestIngestUpload(t *testing.T) {
	f := newIngestFixture(t, nil)

	video, err := f.ingestor.Ingest(context.Background(), f.session, "plain", UploadSource{
		Filename: "holiday.mp4",
		MimeType: "video/mp4",
		Reader:   strings.NewReader("video-bytes"),
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if f.files.uploaded["holiday.mp4"] != "video-bytes" {
		t.Fatalf("expected spooled bytes to be uploaded, got %+v", f.files.uploaded)
	}
	if video.ExternalFileRef != "files/holiday.mp4" || video.ExternalFileURI == "" || video.MimeType != "video/mp4" {
		t.Fatalf("unexpected video: %+v", video)
	}
	if video.ThumbnailRef != "videos/thumbnails/"+video.ID+".jpg" {
		t.Fatalf("unexpected thumbnail ref %q", video.ThumbnailRef)
	}
	if f.thumbnails.saved[video.ThumbnailRef] != "image/jpeg:jpeg" {
		t.Fatalf("unexpected stored thumbnail: %+v", f.thumbnails.saved)
	}
	if video.Metadata["title"] != "holiday.mp4" || video.OwnerID != "user-1" {
		t.Fatalf("unexpected metadata: %+v", video)
	}
	if len(f.videos.created) != 1 {
		t.Fatalf("expected one persisted video got %d", len(f.videos.created))
	}
}

func TestIngestRedGroupSkipsThumbnail(t *testing.T) {
	f := newIngestFixture(t, nil)

	video, err := f.ingestor.Ingest(context.Background(), f.session, "red", UploadSource{
		Filename: "sensitive.mp4",
		Reader:   strings.NewReader("video-bytes"),
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if f.frames.calls != 0 || video.ThumbnailRef != "" || !video.IsRed {
		t.Fatalf("expected red group to skip thumbnails, got %+v after %d extractions", video, f.frames.calls)
	}
}

func TestIngestThumbnailFailureStillPersists(t *testing.T) {
	f := newIngestFixture(t, nil)
	f.frames.err = errors.New("ffmpeg missing")

	video, err := f.ingestor.Ingest(context.Background(), f.session, "plain", UploadSource{
		Filename: "clip.mp4",
		Reader:   strings.NewReader("video-bytes"),
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if video.ThumbnailRef != "" || len(f.videos.created) != 1 {
		t.Fatalf("expected video without thumbnail, got %+v", video)
	}
}

func TestIngestRejections(t *testing.T) {
	tests := []struct {
		name    string
		groupID string
		source  Source
		wantErr error
	}{
		{name: "foreign group", groupID: "foreign", source: UploadSource{Filename: "a.mp4", Reader: strings.NewReader("x")}, wantErr: repositories.ErrNotFound},
		{name: "unknown group", groupID: "missing", source: UploadSource{Filename: "a.mp4", Reader: strings.NewReader("x")}, wantErr: repositories.ErrNotFound},
		{name: "not a video", groupID: "plain", source: UploadSource{Filename: "a.txt", MimeType: "text/plain", Reader: strings.NewReader("x")}, wantErr: ErrNotVideo},
		{name: "invalid url", groupID: "plain", source: URLSource{URL: "ftp://example.com/a.mp4"}, wantErr: ErrInvalidURL},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newIngestFixture(t, NewFetcher(nil, 0))
			_, err := f.ingestor.Ingest(context.Background(), f.session, tc.groupID, tc.source)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v got %v", tc.wantErr, err)
			}
			if len(f.files.uploaded) != 0 || len(f.videos.created) != 0 {
				t.Fatal("expected nothing to be uploaded or persisted")
			}
		})
	}
}

func TestIngestWaitFailureDeletesRemoteFile(t *testing.T) {
	f := newIngestFixture(t, nil)
	f.files.waitErr = gemini.ErrFileFailed

	_, err := f.ingestor.Ingest(context.Background(), f.session, "plain", UploadSource{Filename: "a.mp4", Reader: strings.NewReader("x")})
	if !errors.Is(err, gemini.ErrFileFailed) {
		t.Fatalf("expected ErrFileFailed got %v", err)
	}
	if len(f.files.deleted) != 1 || f.files.deleted[0] != "files/a.mp4" {
		t.Fatalf("expected remote file cleanup, got %+v", f.files.deleted)
	}
	if len(f.videos.created) != 0 {
		t.Fatal("expected no video to be persisted")
	}
}

func newVideoServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if strings.HasSuffix(r.URL.Path, ".html") {
			w.Header().Set("Content-Type", "text/html")
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, "remote-"+strings.TrimPrefix(r.URL.Path, "/"))
		}
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestImportCSV(t *testing.T) {
	server, _ := newVideoServer(t)
	f := newIngestFixture(t, NewFetcher(server.Client(), 0))

	input := "mediaSharePath,title,relateId,score\n" +
		server.URL + "/a.mp4,First,r-1,7\n" +
		server.URL + "/page.html,Not a video,,2\n" +
		server.URL + "/b.mp4,Bad score,,x\n" +
		server.URL + "/c.mp4,Third,,4\n"

	report, err := f.ingestor.ImportCSV(context.Background(), f.session, "plain", strings.NewReader(input))
	if err != nil {
		t.Fatalf("ImportCSV() error = %v", err)
	}
	if report.Format != CSVFormatDreemz || report.Succeeded != 2 || report.Failed != 2 || len(report.Rows) != 4 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Rows[0].VideoID == "" || report.Rows[1].Error == "" || report.Rows[2].Error == "" || report.Rows[3].VideoID == "" {
		t.Fatalf("unexpected row outcomes: %+v", report.Rows)
	}

	first := f.videos.created[0]
	if first.SourceURL != server.URL+"/a.mp4" || first.Metadata["score"] != 7 || first.Metadata["relateId"] != "r-1" {
		t.Fatalf("unexpected imported video: %+v", first)
	}
	if f.files.uploaded["First"] != "remote-a.mp4" {
		t.Fatalf("expected downloaded bytes to be uploaded, got %+v", f.files.uploaded)
	}
}

func TestImportCSVRejectsMissingURLColumnBeforeFetching(t *testing.T) {
	server, requests := newVideoServer(t)
	f := newIngestFixture(t, NewFetcher(server.Client(), 0))

	input := "link,title\n" + server.URL + "/a.mp4,First\n"
	_, err := f.ingestor.ImportCSV(context.Background(), f.session, "plain", strings.NewReader(input))
	if !errors.Is(err, ErrMissingURLColumn) {
		t.Fatalf("expected ErrMissingURLColumn got %v", err)
	}
	if requests.Load() != 0 {
		t.Fatalf("expected no http requests, got %d", requests.Load())
	}
	if len(f.files.uploaded) != 0 {
		t.Fatal("expected nothing uploaded")
	}
}
