package videos

import "errors"

var (
	// ErrInvalidURL indicates a video URL is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid video url")
	// ErrNotVideo indicates the content behind a URL or upload is not a video.
	ErrNotVideo = errors.New("content is not a video")
	// ErrMissingURLColumn indicates a CSV import has no recognised URL column.
	ErrMissingURLColumn = errors.New("csv has no video url column")
	// ErrTooLarge indicates a video exceeded the configured size limit.
	ErrTooLarge = errors.New("video exceeds size limit")
	// ErrToolUnavailable indicates ffmpeg or ffprobe is not configured.
	ErrToolUnavailable = errors.New("video tool unavailable")
)
