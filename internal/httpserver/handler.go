package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/davidbz/kiln/internal/domain"
	"github.com/davidbz/kiln/internal/observability"
	"github.com/davidbz/kiln/internal/queue"
	"github.com/davidbz/kiln/internal/store"
)

const (
	// HeaderUserID carries the authenticated user id set by the upstream auth proxy.
	HeaderUserID = "X-User-ID"

	// HeaderUsername carries the display name set by the upstream auth proxy.
	HeaderUsername = "X-Username"

	defaultMaxBodyBytes = 64 * 1024
)

// Generator runs image generation requests. *domain.GenerationService implements it.
type Generator interface {
	GenerateImage(ctx context.Context, in domain.GenerationInput) (*domain.Generation, error)
}

// ProviderLister lists the provider keys a caller may request. *routing.SimpleRouter implements it.
type ProviderLister interface {
	Available(ctx context.Context) []string
}

// ImageLoader reads stored images. *store.Store implements it.
type ImageLoader interface {
	GetImage(ctx context.Context, id string) (*store.Image, error)
}

// Handler handles HTTP requests.
type Handler struct {
	generator    Generator
	providers    ProviderLister
	images       ImageLoader
	maxBodyBytes int64
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(generator Generator, providers ProviderLister, images ImageLoader, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{
		generator:    generator,
		providers:    providers,
		images:       images,
		maxBodyBytes: maxBodyBytes,
	}
}

// HandleGenerate processes image generation requests.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in domain.GenerationInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&in); err != nil {
		writeJSON(ctx, w, http.StatusBadRequest, domain.FailureResult{
			Error:      fmt.Sprintf("invalid request body: %v", err),
			StatusCode: http.StatusBadRequest,
		})
		return
	}

	// Identity comes from the auth proxy, never from the body.
	in.UserID = r.Header.Get(HeaderUserID)
	in.Username = r.Header.Get(HeaderUsername)

	logger := observability.FromContext(ctx)
	logger.Info("generation request received",
		observability.Strings("providers", in.Providers),
		observability.Float64("guidance", in.Guidance),
		observability.Bool("anonymous", in.UserID == ""),
	)

	generation, err := h.generator.GenerateImage(ctx, in)
	if err != nil {
		failure := domain.NewFailureResult(err)
		logger.Warn("generation failed",
			observability.Int("status", failure.StatusCode),
			observability.Error(err),
		)

		var limited *queue.RateLimitedError
		if errors.As(err, &limited) {
			w.Header().Set("Retry-After", strconv.Itoa(int(limited.RetryAfter.Round(time.Second).Seconds())))
		}

		writeJSON(ctx, w, failure.StatusCode, failure)
		return
	}

	logger.Info("generation succeeded",
		observability.String("image_id", generation.ID),
		observability.String("provider", generation.ProviderUsed),
	)
	writeJSON(ctx, w, http.StatusOK, generation)
}

// HandleProviders lists requestable provider keys.
func (h *Handler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	providers := h.providers.Available(r.Context())
	writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"providers": append(providers, "random"),
	})
}

// HandleImage serves the bytes of a stored image. Private images are only served to their owner.
func (h *Handler) HandleImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	image, err := h.images.GetImage(ctx, id)
	if errors.Is(err, store.ErrImageNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		observability.FromContext(ctx).Error("failed to load image", observability.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if !image.Public && image.UserID != r.Header.Get(HeaderUserID) {
		http.NotFound(w, r)
		return
	}

	data, err := base64.StdEncoding.DecodeString(image.ImageData)
	if err != nil {
		observability.FromContext(ctx).Error("corrupt image data", observability.String("image_id", id))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	}); err != nil {
		// Already written status, can't change it, just log.
		return
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		observability.FromContext(ctx).Error("failed to encode response", observability.Error(err))
	}
}
