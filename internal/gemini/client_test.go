package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aviz85/gemini-video-playground/internal/retry"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(context.Background(), Config{APIKey: "test-key", BaseURL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)
	return client, server
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	client, _ := newTestServer(t, handler)
	return client
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_GENAI_USE_VERTEXAI", "")

	_, err := NewClient(context.Background(), Config{})
	assert.Error(t, err)
}

func TestUploadFileUsesResumableProtocol(t *testing.T) {
	var uploadURL string
	client, server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		switch r.URL.Path {
		case "/upload/v1beta/files":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "resumable", r.Header.Get("X-Goog-Upload-Protocol"))
			assert.Equal(t, "video/mp4", r.Header.Get("X-Goog-Upload-Header-Content-Type"))
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), "clip.mp4")

			w.Header().Set("X-Goog-Upload-Url", uploadURL)
			_, _ = io.WriteString(w, `{}`)
		case "/resumable/abc":
			assert.Contains(t, r.Header.Get("X-Goog-Upload-Command"), "finalize")
			data, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.Equal(t, "video-bytes", string(data))

			w.Header().Set("X-Goog-Upload-Status", "final")
			_, _ = io.WriteString(w, `{"file":{"name":"files/abc","uri":"https://files/abc","mimeType":"video/mp4","sizeBytes":"11","state":"PROCESSING"}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	uploadURL = server.URL + "/resumable/abc"

	file, err := client.UploadFile(context.Background(), "clip.mp4", "video/mp4", strings.NewReader("video-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "files/abc", file.Name)
	assert.Equal(t, "https://files/abc", file.URI)
	assert.Equal(t, "11", file.SizeBytes)
	assert.Equal(t, StateProcessing, file.State)
}

func TestUploadFileRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"quota exceeded","status":"PERMISSION_DENIED"}}`)
	})

	_, err := client.UploadFile(context.Background(), "clip.mp4", "video/mp4", strings.NewReader("video-bytes"))
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestWaitForActive(t *testing.T) {
	tests := []struct {
		name    string
		states  []string
		wantErr []error
	}{
		{name: "becomes active", states: []string{StateProcessing, StateProcessing, StateActive}},
		{name: "failed is terminal", states: []string{StateProcessing, StateFailed}, wantErr: []error{ErrFileFailed}},
		{name: "still processing", states: []string{StateProcessing, StateProcessing, StateProcessing, StateActive}, wantErr: []error{retry.ErrAttemptsExhausted, ErrFileNotReady}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1beta/files/abc", r.URL.Path)
				state := tc.states[int(calls.Add(1))-1]
				body := map[string]any{"name": "files/abc", "uri": "https://files/abc", "mimeType": "video/mp4", "state": state}
				if state == StateFailed {
					body["error"] = map[string]any{"code": 3, "message": "unsupported codec"}
				}
				_ = json.NewEncoder(w).Encode(body)
			})

			file, err := client.WaitForActive(context.Background(), "files/abc", retry.Fixed(time.Millisecond, 3))
			if len(tc.wantErr) == 0 {
				require.NoError(t, err)
				assert.Equal(t, StateActive, file.State)
				assert.Equal(t, int32(len(tc.states)), calls.Load())
				return
			}
			for _, want := range tc.wantErr {
				assert.ErrorIs(t, err, want)
			}
			if errors.Is(err, ErrFileFailed) {
				assert.Contains(t, err.Error(), "unsupported codec")
			}
		})
	}
}

func TestGenerateContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", r.URL.Path)

		var req struct {
			Contents []struct {
				Role  string `json:"role"`
				Parts []struct {
					Text     string `json:"text"`
					FileData *struct {
						FileURI  string `json:"fileUri"`
						MimeType string `json:"mimeType"`
					} `json:"fileData"`
				} `json:"parts"`
			} `json:"contents"`
			GenerationConfig struct {
				Temperature     float64 `json:"temperature"`
				TopK            float64 `json:"topK"`
				MaxOutputTokens int     `json:"maxOutputTokens"`
			} `json:"generationConfig"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		assert.Equal(t, "user", req.Contents[0].Role)
		require.Len(t, req.Contents[0].Parts, 2)
		require.NotNil(t, req.Contents[0].Parts[0].FileData)
		assert.Equal(t, "https://files/abc", req.Contents[0].Parts[0].FileData.FileURI)
		assert.Equal(t, "video/mp4", req.Contents[0].Parts[0].FileData.MimeType)
		assert.Equal(t, "Describe it", req.Contents[0].Parts[1].Text)
		assert.InDelta(t, 0.4, req.GenerationConfig.Temperature, 1e-6)
		assert.InDelta(t, 40, req.GenerationConfig.TopK, 1e-6)
		assert.Equal(t, 2048, req.GenerationConfig.MaxOutputTokens)

		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"first "},{"text":"second"}]}},{"content":{"parts":[{"text":"ignored"}]}}]}`)
	})

	text, err := client.GenerateContent(context.Background(), "gemini-1.5-flash", FileRef{URI: "https://files/abc", MimeType: "video/mp4"}, "Describe it")
	require.NoError(t, err)
	assert.Equal(t, "first second", text)
}

func TestGenerateContentEmptyResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no candidates", body: `{"candidates":[]}`},
		{name: "blocked", body: `{"promptFeedback":{"blockReason":"SAFETY"}}`},
		{name: "no text", body: `{"candidates":[{"content":{"parts":[]}}]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := client.GenerateContent(context.Background(), DefaultModel, FileRef{URI: "u", MimeType: "video/mp4"}, "p")
			assert.ErrorIs(t, err, ErrEmptyResponse)
		})
	}
}

func TestGenerativeModelsFollowsPagesAndFilters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models", r.URL.Path)
		switch r.URL.Query().Get("pageToken") {
		case "":
			_, _ = io.WriteString(w, `{"models":[{"name":"models/gemini-1.5-pro","inputTokenLimit":1048576,"supportedGenerationMethods":["generateContent","countTokens"]},{"name":"models/embedding-001","supportedGenerationMethods":["embedContent"]}],"nextPageToken":"next"}`)
		case "next":
			_, _ = io.WriteString(w, `{"models":[{"name":"models/gemini-1.5-flash","supportedGenerationMethods":["generateContent"]}]}`)
		default:
			t.Errorf("unexpected page token %q", r.URL.Query().Get("pageToken"))
		}
	})

	all, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)

	models, err := client.GenerativeModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "models/gemini-1.5-pro", models[0].Name)
	assert.Equal(t, 1048576, models[0].InputTokenLimit)
	assert.Equal(t, "models/gemini-1.5-flash", models[1].Name)
}

func TestAPIErrorsAreDecoded(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1beta/files/missing", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"file not found","status":"NOT_FOUND"}}`)
	})

	err := client.DeleteFile(context.Background(), "files/missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "NOT_FOUND", apiErr.Status)
	assert.Contains(t, err.Error(), "file not found")
}

func TestRequestsAreThrottled(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"name":"files/abc","state":"ACTIVE"}`)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), Config{APIKey: "test-key", BaseURL: server.URL, HTTPClient: server.Client(), RequestsPerMinute: 1})
	require.NoError(t, err)

	_, err = client.GetFile(context.Background(), "files/abc")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.GetFile(ctx, "files/abc")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestModelPath(t *testing.T) {
	assert.Equal(t, DefaultModel, modelPath(""))
	assert.Equal(t, "models/gemini-pro", modelPath("gemini-pro"))
	assert.Equal(t, "models/gemini-pro", modelPath("models/gemini-pro"))
}
