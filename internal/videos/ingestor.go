package videos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aviz85/gemini-video-playground/internal/auth"
	"github.com/aviz85/gemini-video-playground/internal/gemini"
	"github.com/aviz85/gemini-video-playground/internal/logging"
	"github.com/aviz85/gemini-video-playground/internal/models"
	"github.com/aviz85/gemini-video-playground/internal/repositories"
	"github.com/aviz85/gemini-video-playground/internal/retry"
	"github.com/aviz85/gemini-video-playground/internal/storage"
)

// FileUploader stores videos with the model API.
type FileUploader interface {
	UploadFile(ctx context.Context, displayName, mimeType string, r io.Reader) (gemini.File, error)
	WaitForActive(ctx context.Context, name string, policy retry.Policy) (gemini.File, error)
	DeleteFile(ctx context.Context, name string) error
}

// GroupFinder loads video groups.
type GroupFinder interface {
	FindByID(ctx context.Context, id string) (models.VideoGroup, error)
}

// VideoCreator persists video records.
type VideoCreator interface {
	Create(ctx context.Context, video models.Video) error
}

// ThumbnailStorage persists thumbnail images.
type ThumbnailStorage interface {
	Save(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

// FrameExtractor renders a JPEG thumbnail from a local video file.
type FrameExtractor interface {
	Thumbnail(ctx context.Context, path string) ([]byte, error)
}

// Downloader probes and downloads remote videos.
type Downloader interface {
	Probe(ctx context.Context, rawURL string) (string, error)
	Download(ctx context.Context, rawURL string, dst io.Writer) (string, int64, error)
}

// IngestorConfig tunes the ingest pipeline.
type IngestorConfig struct {
	PollPolicy      retry.Policy
	MaxUploadBytes  int64
	DownloadTimeout time.Duration
	TempDir         string
}

// Ingestor turns uploads, URLs and CSV rows into stored videos.
type Ingestor struct {
	files      FileUploader
	groups     GroupFinder
	videos     VideoCreator
	thumbnails ThumbnailStorage
	frames     FrameExtractor
	downloader Downloader
	cfg        IngestorConfig
	now        func() time.Time
}

// NewIngestor wires the ingest pipeline. thumbnails and frames may be nil, in
// which case videos are stored without thumbnails.
func NewIngestor(files FileUploader, groups GroupFinder, videos VideoCreator, thumbnails ThumbnailStorage, frames FrameExtractor, downloader Downloader, cfg IngestorConfig) *Ingestor {
	if cfg.PollPolicy.MaxAttempts <= 0 {
		cfg.PollPolicy = retry.Fixed(5*time.Second, 60)
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 10 * time.Minute
	}
	return &Ingestor{
		files:      files,
		groups:     groups,
		videos:     videos,
		thumbnails: thumbnails,
		frames:     frames,
		downloader: downloader,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Ingest stores the video from src in the session owner's group.
func (i *Ingestor) Ingest(ctx context.Context, session auth.Session, groupID string, src Source) (video models.Video, err error) {
	if src == nil {
		return models.Video{}, errors.New("ingest: missing source")
	}

	ctx, span := logging.StartSpan(ctx, "videos.ingest", "group_id", groupID, "source", src.describe())
	defer func() {
		span.Fail(err)
		span.End()
	}()

	if s, ok := src.(URLSource); ok {
		if _, err := ValidateURL(s.URL); err != nil {
			return models.Video{}, err
		}
	}

	group, err := i.groups.FindByID(ctx, groupID)
	if err != nil {
		return models.Video{}, fmt.Errorf("load group: %w", err)
	}
	if group.OwnerID != session.UserID {
		return models.Video{}, fmt.Errorf("load group: %w", repositories.ErrNotFound)
	}

	spool, err := os.CreateTemp(i.cfg.TempDir, "playground-video-*")
	if err != nil {
		return models.Video{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	video = models.Video{
		ID:        uuid.NewString(),
		GroupID:   group.ID,
		OwnerID:   session.UserID,
		IsRed:     group.IsRed,
		Metadata:  map[string]any{},
		CreatedAt: i.now().UTC(),
	}

	displayName, err := i.spool(ctx, src, spool, &video)
	if err != nil {
		return models.Video{}, err
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return models.Video{}, fmt.Errorf("rewind temp file: %w", err)
	}

	uploaded, err := i.files.UploadFile(ctx, displayName, video.MimeType, spool)
	if err != nil {
		return models.Video{}, err
	}
	active, err := i.files.WaitForActive(ctx, uploaded.Name, i.cfg.PollPolicy)
	if err != nil {
		i.discardRemote(ctx, uploaded.Name)
		return models.Video{}, fmt.Errorf("wait for %s: %w", uploaded.Name, err)
	}
	video.ExternalFileRef = active.Name
	video.ExternalFileURI = active.URI
	if active.MimeType != "" {
		video.MimeType = active.MimeType
	}

	if !group.IsRed {
		video.ThumbnailRef = i.thumbnail(ctx, video.ID, spool.Name())
	}

	if err := i.videos.Create(ctx, video); err != nil {
		i.discardRemote(ctx, active.Name)
		return models.Video{}, fmt.Errorf("persist video: %w", err)
	}

	logging.FromContext(ctx).Info("video ingested", "video_id", video.ID, "file", video.ExternalFileRef, "has_thumbnail", video.ThumbnailRef != "")
	return video, nil
}

// spool copies the source into dst, filling in the video's MIME type, source
// URL and metadata. It returns the display name sent to the model API.
func (i *Ingestor) spool(ctx context.Context, src Source, dst io.Writer, video *models.Video) (string, error) {
	switch s := src.(type) {
	case UploadSource:
		mimeType, err := UploadMimeType(s.Filename, s.MimeType)
		if err != nil {
			return "", err
		}
		if s.Reader == nil {
			return "", errors.New("ingest: upload has no content")
		}
		if _, err := copyLimited(dst, s.Reader, i.cfg.MaxUploadBytes); err != nil {
			return "", fmt.Errorf("read upload: %w", err)
		}
		name := path.Base(strings.ReplaceAll(s.Filename, "\\", "/"))
		video.MimeType = mimeType
		video.Metadata["title"] = name
		video.Metadata["original_filename"] = name
		return name, nil

	case URLSource:
		if i.downloader == nil {
			return "", errors.New("ingest: url downloads are not configured")
		}
		if _, err := i.downloader.Probe(ctx, s.URL); err != nil {
			return "", err
		}

		downloadCtx, cancel := context.WithTimeout(ctx, i.cfg.DownloadTimeout)
		defer cancel()
		mimeType, size, err := i.downloader.Download(downloadCtx, s.URL, dst)
		if err != nil {
			return "", err
		}
		logging.FromContext(ctx).Debug("video downloaded", "url", s.URL, "bytes", size)

		video.MimeType = mimeType
		video.SourceURL = s.URL
		for key, value := range s.Metadata {
			video.Metadata[key] = value
		}
		return video.Title(), nil

	default:
		return "", fmt.Errorf("ingest: unsupported source %T", src)
	}
}

// thumbnail renders and stores the thumbnail, returning its key. Failures are
// logged and yield an empty key.
func (i *Ingestor) thumbnail(ctx context.Context, videoID, localPath string) string {
	if i.frames == nil || i.thumbnails == nil {
		return ""
	}
	logger := logging.FromContext(ctx)

	image, err := i.frames.Thumbnail(ctx, localPath)
	if err != nil {
		logger.Warn("thumbnail extraction failed", "video_id", videoID, "error", err)
		return ""
	}

	key, err := i.thumbnails.Save(ctx, storage.ThumbnailKey(videoID), "image/jpeg", bytes.NewReader(image))
	if err != nil {
		logger.Warn("thumbnail upload failed", "video_id", videoID, "error", err)
		return ""
	}
	return key
}

func (i *Ingestor) discardRemote(ctx context.Context, name string) {
	if name == "" {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := i.files.DeleteFile(cleanupCtx, name); err != nil {
		logging.FromContext(ctx).Warn("delete remote file", "file", name, "error", err)
	}
}

// ImportRowResult is the outcome of one CSV row.
type ImportRowResult struct {
	Line    int    `json:"line"`
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	VideoID string `json:"videoId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ImportReport summarises a CSV import.
type ImportReport struct {
	Format    string            `json:"format"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Rows      []ImportRowResult `json:"rows"`
}

// ImportCSV ingests every row of a CSV file sequentially, continuing past
// rows that fail. Files without a URL column are rejected before any row is
// fetched.
func (i *Ingestor) ImportCSV(ctx context.Context, session auth.Session, groupID string, r io.Reader) (ImportReport, error) {
	format, rows, err := ParseCSV(r)
	if err != nil {
		return ImportReport{}, err
	}

	group, err := i.groups.FindByID(ctx, groupID)
	if err != nil {
		return ImportReport{}, fmt.Errorf("load group: %w", err)
	}
	if group.OwnerID != session.UserID {
		return ImportReport{}, fmt.Errorf("load group: %w", repositories.ErrNotFound)
	}

	ctx, span := logging.StartSpan(ctx, "videos.import_csv", "group_id", groupID, "format", format, "rows", len(rows))
	defer span.End()
	logger := logging.FromContext(ctx)

	report := ImportReport{Format: format, Rows: make([]ImportRowResult, 0, len(rows))}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			span.Fail(err)
			return report, err
		}

		result := ImportRowResult{Line: row.Line, URL: row.URL, Title: row.Title}
		if row.Err != nil {
			result.Error = row.Err.Error()
			report.Failed++
			report.Rows = append(report.Rows, result)
			logger.Warn("skipping csv row", "line", row.Line, "error", row.Err)
			continue
		}

		video, err := i.Ingest(ctx, session, groupID, row.Source())
		if err != nil {
			result.Error = err.Error()
			report.Failed++
			logger.Warn("csv row failed", "line", row.Line, "url", row.URL, "error", err)
		} else {
			result.VideoID = video.ID
			report.Succeeded++
		}
		report.Rows = append(report.Rows, result)
	}

	return report, nil
}
