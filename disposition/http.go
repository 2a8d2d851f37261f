package disposition

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/matcontt/tindercam/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MaxUploadSize bounds the body of a capture request.
const MaxUploadSize = 32 << 20

// Server exposes the orchestrator over HTTP.
type Server struct {
	orch     *Orchestrator
	ingestor *Ingestor
	language string
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

func NewServer(orch *Orchestrator, ingestor *Ingestor, language string, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		orch:     orch,
		ingestor: ingestor,
		language: language,
		gatherer: gatherer,
		logger:   logger.Named("http"),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.httpLogger)
	r.Use(s.i18nMiddleware)

	r.Get("/", s.handleStatusPage)
	r.Get("/asset/{id}", s.handleAsset)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/photos/{collection}", s.handleList)
		r.Delete("/photos/{id}", s.handleDelete)
		r.Post("/capture", s.handleCapture)
		r.Post("/discard", s.handleDiscard)
		r.Route("/gesture", func(r chi.Router) {
			r.Post("/begin", s.handleBegin)
			r.Post("/move", s.handleMove)
			r.Post("/release", s.handleRelease)
		})
	})
	return r
}

// i18nMiddleware adds the translator for the request to its context.
func (s *Server) i18nMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithTranslator(r.Context(), TranslatorFromRequest(r, s.language))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) httpLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("request",
			zap.Int("status", status),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())))
	})
}

type statusResponse struct {
	Status
	GalleryCounter string `json:"gallery_counter"`
	TrashCounter   string `json:"trash_counter"`
}

type releaseResponse struct {
	Outcome
	Alert          *Alert `json:"alert,omitempty"`
	GalleryCounter string `json:"gallery_counter"`
}

type moveRequest struct {
	X *float64 `json:"x"`
}

type errorResponse struct {
	Error string `json:"error"`
	Alert *Alert `json:"alert,omitempty"`
}

func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	tr := TranslatorFromContext(r.Context())
	store := s.orch.Store()
	content := StatusMarkdown(tr, s.orch.Status(), store.Gallery(), store.Trash())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := ExecTemplate(w, PageContent{Lang: s.language, Title: tr.T("status_title"), Content: content}); err != nil {
		s.logger.Error("while rendering status page", zap.Error(err))
	}
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var (
		body io.ReadCloser
		err  error
	)
	if p := s.orch.InFlight(); p != nil && p.ID == id {
		body, err = s.orch.blobs.Open(p.SourceURI)
	} else {
		body, _, err = s.orch.Store().OpenBlob(id)
	}
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("while opening asset", zap.String("photo", id), zap.Error(err))
		}
		http.NotFound(w, r)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn("while serving asset", zap.String("photo", id), zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tr := TranslatorFromContext(r.Context())
	status := s.orch.Status()
	s.writeJSON(w, http.StatusOK, statusResponse{
		Status:         status,
		GalleryCounter: tr.GalleryCounter(status.Counts),
		TrashCounter:   tr.TrashCounter(status.Counts),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	collection, err := domain.ParseCollection(chi.URLParam(r, "collection"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	photos := s.orch.Store().List(collection)
	slices.Reverse(photos)
	s.writeJSON(w, http.StatusOK, photos)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	photo, collection, err := s.orch.Store().Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"photo":      photo,
		"collection": collection,
		"counts":     s.orch.Store().Counts(),
	})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, MaxUploadSize)
	photo, err := s.orch.Capture(r.Context(), s.ingestor.ReaderSession(body))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, photo)
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	photo, err := s.orch.Discard(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, photo)
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.BeginGesture(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil || req.X == nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: `body must be {"x": <translation>}`})
		return
	}
	feedback, err := s.orch.Move(*req.X)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, feedback)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	tr := TranslatorFromContext(r.Context())
	out, err := s.orch.Release(r.Context())
	if err != nil && out.Signal == "" {
		s.writeError(w, r, err)
		return
	}
	resp := releaseResponse{
		Outcome:        out,
		Alert:          tr.AlertFor(out.Signal, out.Counts),
		GalleryCounter: tr.GalleryCounter(out.Counts),
	}
	if out.Evicted != nil {
		resp.Alert = tr.AlertFor(SignalTrashEviction, out.Counts)
	}
	if err != nil {
		s.logger.Error("while releasing gesture", zap.Error(err))
		s.writeJSON(w, statusFor(err), resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCaptureFailure),
		errors.Is(err, domain.ErrInvalidPhoto),
		errors.Is(err, domain.ErrInvalidSample):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBusy),
		errors.Is(err, domain.ErrPhotoInFlight),
		errors.Is(err, domain.ErrNoPhotoInFlight),
		errors.Is(err, domain.ErrCapacityExceeded),
		errors.Is(err, domain.ErrGestureActive),
		errors.Is(err, domain.ErrGestureIdle),
		errors.Is(err, domain.ErrDuplicatePhoto),
		errors.Is(err, domain.ErrOutOfOrder):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	tr := TranslatorFromContext(r.Context())
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	switch {
	case errors.Is(err, domain.ErrCaptureFailure):
		resp.Alert = tr.CaptureErrorAlert()
	case errors.Is(err, domain.ErrCapacityExceeded):
		resp.Alert = tr.CaptureRefusedAlert(s.orch.Store().Counts())
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("while encoding response", zap.Error(err))
	}
}
