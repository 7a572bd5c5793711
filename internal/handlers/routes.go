package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/aviz85/gemini-video-playground/internal/gemini"
	"github.com/aviz85/gemini-video-playground/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Logger         *slog.Logger
	DB             Pinger
	Users          UserStore
	Sessions       SessionManager
	Groups         GroupStore
	Videos         VideoStore
	Ingestor       VideoIngestor
	Prompts        PromptStore
	Batches        BatchStore
	Builder        BatchCreator
	Scheduler      BatchScheduler
	Models         gemini.ModelLister
	DefaultModel   string
	Search         Searcher
	Thumbnails     ThumbnailResolver
	AuthLimiter    middleware.RateLimiter
	MaxUploadBytes int64
}

// NewRouter wires every HTTP handler into a router.
func NewRouter(deps Dependencies) *mux.Router {
	health := HealthHandler{DB: deps.DB}
	authH := AuthHandler{Users: deps.Users, Sessions: deps.Sessions}
	groups := GroupHandler{
		Groups:         deps.Groups,
		Videos:         deps.Videos,
		Ingestor:       deps.Ingestor,
		Thumbnails:     deps.Thumbnails,
		MaxUploadBytes: deps.MaxUploadBytes,
	}
	prompts := PromptHandler{Prompts: deps.Prompts}
	modelsH := ModelHandler{Models: deps.Models, DefaultModel: deps.DefaultModel}
	batchesH := BatchHandler{
		Batches:      deps.Batches,
		Builder:      deps.Builder,
		Scheduler:    deps.Scheduler,
		Thumbnails:   deps.Thumbnails,
		DefaultModel: deps.DefaultModel,
	}
	searchH := SearchHandler{Search: deps.Search}

	router := mux.NewRouter()
	router.Use(middleware.RequestLogger(deps.Logger))
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(r.Context(), w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(r.Context(), w, http.StatusMethodNotAllowed, "method not allowed")
	})

	router.HandleFunc("/healthz", health.Handle).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	public := api.PathPrefix("/auth").Subrouter()
	public.Use(middleware.RateLimit(deps.AuthLimiter, "auth"))
	public.HandleFunc("/signup", authH.SignUp).Methods(http.MethodPost)
	public.HandleFunc("/login", authH.Login).Methods(http.MethodPost)
	public.HandleFunc("/refresh", authH.Refresh).Methods(http.MethodPost)

	private := api.NewRoute().Subrouter()
	private.Use(middleware.RequireSession(deps.Sessions))

	private.HandleFunc("/auth/logout", authH.Logout).Methods(http.MethodPost)
	private.HandleFunc("/auth/me", authH.Me).Methods(http.MethodGet)

	private.HandleFunc("/groups", groups.Create).Methods(http.MethodPost)
	private.HandleFunc("/groups", groups.List).Methods(http.MethodGet)
	private.HandleFunc("/groups/{groupID}", groups.Get).Methods(http.MethodGet)
	private.HandleFunc("/groups/{groupID}", groups.Delete).Methods(http.MethodDelete)
	private.HandleFunc("/groups/{groupID}/videos", groups.ListVideos).Methods(http.MethodGet)
	private.HandleFunc("/groups/{groupID}/videos/upload", groups.Upload).Methods(http.MethodPost)
	private.HandleFunc("/groups/{groupID}/videos/url", groups.IngestURL).Methods(http.MethodPost)
	private.HandleFunc("/groups/{groupID}/videos/import", groups.ImportCSV).Methods(http.MethodPost)
	private.HandleFunc("/videos/{videoID}", groups.Video).Methods(http.MethodGet)

	private.HandleFunc("/prompts", prompts.Create).Methods(http.MethodPost)
	private.HandleFunc("/prompts", prompts.List).Methods(http.MethodGet)
	private.HandleFunc("/prompts/{promptID}", prompts.Get).Methods(http.MethodGet)
	private.HandleFunc("/prompts/{promptID}", prompts.Update).Methods(http.MethodPut)
	private.HandleFunc("/prompts/{promptID}", prompts.Delete).Methods(http.MethodDelete)

	private.HandleFunc("/models", modelsH.List).Methods(http.MethodGet)

	private.HandleFunc("/batches", batchesH.Create).Methods(http.MethodPost)
	private.HandleFunc("/batches", batchesH.List).Methods(http.MethodGet)
	private.HandleFunc("/batches/{batchID}", batchesH.Get).Methods(http.MethodGet)
	private.HandleFunc("/batches/{batchID}/run", batchesH.Run).Methods(http.MethodPost)
	private.HandleFunc("/batches/{batchID}/results", batchesH.Results).Methods(http.MethodGet)
	private.HandleFunc("/batches/{batchID}/stats", batchesH.Stats).Methods(http.MethodGet)
	private.HandleFunc("/batches/{batchID}/correlation", batchesH.Correlation).Methods(http.MethodGet)

	private.HandleFunc("/search", searchH.Query).Methods(http.MethodPost)

	return router
}
