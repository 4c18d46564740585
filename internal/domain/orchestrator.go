package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/davidbz/kiln/internal/circuitbreaker"
	"github.com/davidbz/kiln/internal/observability"
	"github.com/davidbz/kiln/internal/queue"
	"github.com/davidbz/kiln/internal/retry"
)

// ImageGenerationBreakerPrefix prefixes the per-provider breaker key.
const ImageGenerationBreakerPrefix = "imageGeneration:"

// EventGenerationCompleted is published after a successful generation.
const EventGenerationCompleted = "generation.completed"

// Settings are the orchestration knobs.
type Settings struct {
	// FanOut issues all providers concurrently instead of one after another.
	FanOut bool

	// MaxFanOut bounds concurrent provider calls in fan-out mode.
	MaxFanOut int

	// MaxProviders bounds the provider list of one request.
	MaxProviders int

	// ProviderTimeout bounds one provider attempt. It should not exceed JobTimeout.
	ProviderTimeout time.Duration

	// JobTimeout bounds the whole queued job. Zero uses the queue default.
	JobTimeout time.Duration

	// Retry wraps every provider call.
	Retry retry.Policy

	// ImageBreaker configures the imageGeneration:<provider> breakers.
	ImageBreaker circuitbreaker.Config
}

// GenerationDeps are the collaborators of GenerationService.
// Resolver, Prompts, Tagger, Events, Metrics and Detacher are optional.
type GenerationDeps struct {
	Registry ProviderRegistry
	Catalog  ModelCatalog
	Resolver ProviderResolver
	Costs    *CostCalculator
	Credits  *CreditCoordinator
	Prompts  *PromptPipeline
	Store    ResultStore
	Tagger   Tagger
	Events   EventPublisher
	Metrics  GenerationMetrics
	Breakers *circuitbreaker.Registry
	Queue    *queue.Queue
	Detacher *Detacher
}

// GenerationService orchestrates image generation requests.
type GenerationService struct {
	deps     GenerationDeps
	settings Settings
}

// NewGenerationService creates a new generation service (DI constructor).
func NewGenerationService(deps GenerationDeps, settings Settings) *GenerationService {
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Detacher == nil {
		deps.Detacher = NewDetacher(0)
	}
	if deps.Breakers == nil {
		deps.Breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	}
	if deps.Credits == nil {
		deps.Credits = NewCreditCoordinator(nil, deps.Metrics)
	}
	if deps.Costs == nil {
		deps.Costs = NewCostCalculator(deps.Catalog, DefaultProviderCost)
	}
	if settings.MaxProviders <= 0 {
		settings.MaxProviders = MaxProviders
	}
	if settings.MaxFanOut <= 0 {
		settings.MaxFanOut = 5
	}
	return &GenerationService{
		deps:     deps,
		settings: settings,
	}
}

// winner is the provider attempt that produced the returned image.
type winner struct {
	key       string
	index     int
	result    ImageResult
	attempted []string
}

// completed is what a queued job hands back on success.
type completed struct {
	generation  *Generation
	reservation *Reservation
	prompt      string
	win         *winner
	stored      *StoredImage
	cost        float64
}

// GenerateImage validates, queues and runs one generation request.
// Every error returned is a *GenerationError carrying the request id and an HTTP status.
func (s *GenerationService) GenerateImage(ctx context.Context, in GenerationInput) (*Generation, error) {
	requestID := uuid.New().String()
	ctx = observability.WithRequestID(ctx, requestID)
	if in.UserID != "" {
		ctx = observability.WithUserID(ctx, in.UserID)
	}

	req, err := Validate(in, requestID, s.settings.MaxProviders)
	if err != nil {
		return nil, s.finish(&GenerationError{
			RequestID:  requestID,
			StatusCode: http.StatusBadRequest,
			Message:    err.Error(),
			Err:        err,
		})
	}

	if s.deps.Resolver != nil {
		providers, resolveErr := s.deps.Resolver.Resolve(ctx, req.Providers)
		if resolveErr != nil {
			return nil, s.finish(&GenerationError{
				RequestID:  requestID,
				StatusCode: http.StatusBadRequest,
				Message:    resolveErr.Error(),
				Err:        resolveErr,
			})
		}
		req.Providers = providers
	}

	observability.FromContext(ctx).Info("generation admitted",
		observability.Strings("providers", req.Providers),
		observability.Float64("guidance", req.Guidance),
		observability.Bool("fan_out", s.settings.FanOut),
	)

	done, err := queue.Add(ctx, s.deps.Queue, func(ctx context.Context) (*completed, error) {
		return s.generate(ctx, req)
	}, queue.Options{
		UserID:   req.UserID,
		Priority: req.Priority,
		Timeout:  s.settings.JobTimeout,
		Discard: func(value any) {
			if late, ok := value.(*completed); ok {
				s.abandon(ctx, late)
			}
		},
	})
	if err != nil {
		return nil, s.finish(asGenerationError(requestID, err))
	}

	s.afterSuccess(ctx, req, done.prompt, done.win, done.stored, done.cost)

	s.deps.Metrics.GenerationCompleted(http.StatusOK)
	return done.generation, nil
}

// abandon compensates a generation that succeeded after its caller was answered
// with a timeout or cancellation: the stored image is removed and the credits are returned.
func (s *GenerationService) abandon(ctx context.Context, late *completed) {
	ctx = context.WithoutCancel(ctx)
	logger := observability.FromContext(ctx)
	logger.Warn("generation finished after the caller was answered",
		observability.String("image_id", late.stored.ID),
	)

	if deleter, ok := s.deps.Store.(ResultDeleter); ok {
		if err := deleter.DeleteResult(ctx, late.stored.ID); err != nil {
			logger.Error("failed to remove abandoned image",
				observability.String("image_id", late.stored.ID),
				observability.Error(err),
			)
		}
	}

	late.reservation.Refund(ctx, "generation abandoned after timeout")
}

func (s *GenerationService) finish(err *GenerationError) error {
	s.deps.Metrics.GenerationCompleted(err.StatusCode)
	return err
}

// generate runs inside the queue: reserve, process the prompt, attempt providers, persist.
func (s *GenerationService) generate(ctx context.Context, req *GenerationRequest) (*completed, error) {
	logger := observability.FromContext(ctx)

	cost, err := s.deps.Costs.Calculate(ctx, req.Providers, s.settings.FanOut)
	if err != nil {
		return nil, &GenerationError{RequestID: req.RequestID, StatusCode: http.StatusBadRequest, Message: err.Error(), Err: err}
	}

	reservation, err := s.deps.Credits.Reserve(ctx, req.UserID, req.RequestID, cost, req.Providers)
	if err != nil {
		var insufficient *InsufficientCreditsError
		if errors.As(err, &insufficient) {
			return nil, &GenerationError{
				RequestID:  req.RequestID,
				StatusCode: http.StatusPaymentRequired,
				Message:    insufficient.Error(),
				Err:        err,
			}
		}
		logger.Error("credit reservation failed", observability.Error(err))
		return nil, &GenerationError{
			RequestID:  req.RequestID,
			StatusCode: http.StatusInternalServerError,
			Message:    "failed to reserve credits",
			Err:        err,
		}
	}

	defer func() {
		if p := recover(); p != nil {
			reservation.Refund(ctx, "generation panicked")
			panic(p)
		}
	}()

	prompt := req.Prompt
	if s.deps.Prompts != nil {
		prompt = s.deps.Prompts.Process(ctx, req.Prompt, req.Options)
	}

	var win *winner
	if s.settings.FanOut {
		win, err = s.fanOut(ctx, req, prompt)
	} else {
		win, err = s.fallback(ctx, req, prompt)
	}
	if err != nil {
		reservation.Refund(ctx, "all providers failed")
		return nil, providerFailureError(req.RequestID, err)
	}

	stored, err := s.save(ctx, req, prompt, win)
	if err != nil {
		logger.Error("failed to persist generated image", observability.Error(err))
		reservation.Refund(ctx, "persist failed")
		return nil, &GenerationError{
			RequestID:  req.RequestID,
			StatusCode: http.StatusInternalServerError,
			Message:    "failed to store generated image",
			Err:        err,
		}
	}

	logger.Info("generation completed",
		observability.String("provider_used", win.key),
		observability.Int("provider_index", win.index),
		observability.Duration("provider_duration", win.result.Meta.Duration),
	)

	generation := &Generation{
		Success:            true,
		ID:                 stored.ID,
		RequestID:          req.RequestID,
		ImageURL:           stored.ImageURL,
		Prompt:             prompt,
		Original:           req.OriginalPrompt,
		Provider:           win.key,
		Guidance:           req.Guidance,
		UserID:             req.UserID,
		Username:           req.Username,
		CreatedAt:          stored.CreatedAt,
		ProviderUsed:       win.key,
		ProvidersAttempted: win.attempted,
		ProviderIndex:      win.index,
	}
	return &completed{
		generation:  generation,
		reservation: reservation,
		prompt:      prompt,
		win:         win,
		stored:      stored,
		cost:        cost,
	}, nil
}

// fallback tries providers strictly in order and stops at the first success.
func (s *GenerationService) fallback(ctx context.Context, req *GenerationRequest, prompt string) (*winner, error) {
	attempted := make([]string, 0, len(req.Providers))
	failures := make([]ProviderFailure, 0, len(req.Providers))

	for i, key := range req.Providers {
		if ctx.Err() != nil {
			break
		}
		attempted = append(attempted, key)

		result := s.attempt(ctx, req, prompt, key)
		if result.OK {
			return &winner{key: key, index: i, result: result, attempted: attempted}, nil
		}

		failure := failureOf(key, result)
		failures = append(failures, failure)
		observability.FromContext(ctx).Warn("provider failed, trying next",
			observability.String("provider", key),
			observability.String("code", string(failure.Type)),
		)
	}

	return nil, &AllProvidersFailedError{Failures: failures}
}

// fanOut starts every provider at once, bounded by MaxFanOut.
// The winner is the first success in provider-list order: provider i wins once
// providers 0..i-1 have failed. Remaining attempts are cancelled.
func (s *GenerationService) fanOut(ctx context.Context, req *GenerationRequest, prompt string) (*winner, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(s.settings.MaxFanOut))
	results := make([]chan ImageResult, len(req.Providers))

	var wg sync.WaitGroup
	for i, key := range req.Providers {
		results[i] = make(chan ImageResult, 1)
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] <- Failed(ClassifyTransportError(ctx, key, err), ResultMeta{
					RequestID: req.RequestID,
					Provider:  key,
					Timestamp: time.Now(),
				})
				return
			}
			defer sem.Release(1)
			results[i] <- s.attempt(ctx, req, prompt, key)
		}(i, key)
	}

	var (
		win      *winner
		failures = make([]ProviderFailure, 0, len(req.Providers))
	)
	for i, key := range req.Providers {
		result := <-results[i]
		if result.OK {
			win = &winner{key: key, index: i, result: result, attempted: req.Providers}
			break
		}
		failures = append(failures, failureOf(key, result))
	}

	cancel()
	wg.Wait()

	if win == nil {
		return nil, &AllProvidersFailedError{Failures: failures}
	}
	return win, nil
}

// attempt runs one provider through its breaker and the retry policy.
// The returned result is never an error: every failure is classified into it.
func (s *GenerationService) attempt(ctx context.Context, req *GenerationRequest, prompt, key string) ImageResult {
	ctx = observability.WithProvider(ctx, key)
	started := time.Now()
	meta := ResultMeta{RequestID: req.RequestID, Provider: key, Timestamp: started}

	cfg, err := s.deps.Catalog.GetGeneratorConfig(ctx, key)
	if err != nil {
		return s.recordAttempt(key, Failed(
			NewProviderError(key, CodeProviderUnavailable, "no active model").WithCause(err), meta))
	}
	meta.Model = cfg.Model
	ctx = observability.WithModel(ctx, cfg.Model)

	provider, err := s.deps.Registry.Get(ctx, cfg.Type)
	if err != nil {
		return s.recordAttempt(key, Failed(
			NewProviderError(key, CodeProviderUnavailable, "adapter not registered").WithCause(err), meta))
	}

	size := req.Options.Size
	if size == "" {
		size = cfg.Size
	}
	call := ProviderCall{
		RequestID: req.RequestID,
		Prompt:    prompt,
		Guidance:  req.Guidance,
		Model:     cfg.Model,
		URL:       cfg.URL,
		UserID:    req.UserID,
		Size:      size,
		Quality:   req.Options.Quality,
	}

	result, err := circuitbreaker.Execute(ctx, s.deps.Breakers, ImageGenerationBreakerPrefix+key, s.settings.ImageBreaker,
		func(ctx context.Context) (ImageResult, error) {
			return retry.WithRetry(ctx, s.settings.Retry, func(ctx context.Context) (ImageResult, error) {
				return s.invoke(ctx, provider, call)
			})
		})

	meta.Duration = time.Since(started)
	if err != nil {
		return s.recordAttempt(key, Failed(toProviderError(ctx, key, err), meta))
	}

	result.Meta.RequestID = req.RequestID
	result.Meta.Provider = key
	if result.Meta.Model == "" {
		result.Meta.Model = cfg.Model
	}
	result.Meta.Duration = meta.Duration
	if result.Meta.Timestamp.IsZero() {
		result.Meta.Timestamp = started
	}
	return s.recordAttempt(key, result)
}

// invoke is one provider round trip under the per-attempt timeout. A panicking adapter is a failure.
func (s *GenerationService) invoke(ctx context.Context, provider ImageProvider, call ProviderCall) (result ImageResult, err error) {
	if s.settings.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.ProviderTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			perr := NewProviderError(provider.Name(), CodeUnknown, fmt.Sprintf("adapter panicked: %v", p))
			result, err = Failed(perr, ResultMeta{}), perr
		}
	}()

	result = provider.Generate(ctx, call)
	return result, result.Err()
}

func (s *GenerationService) recordAttempt(key string, result ImageResult) ImageResult {
	outcome := "success"
	if !result.OK {
		outcome = string(CodeUnknown)
		if result.Failure != nil {
			outcome = string(result.Failure.Code)
		}
	}
	s.deps.Metrics.ProviderAttempt(key, outcome)
	return result
}

func (s *GenerationService) save(ctx context.Context, req *GenerationRequest, prompt string, win *winner) (*StoredImage, error) {
	if s.deps.Store == nil {
		return &StoredImage{ID: req.RequestID, CreatedAt: time.Now()}, nil
	}

	record := ImageRecord{
		RequestID:      req.RequestID,
		UserID:         req.UserID,
		Prompt:         prompt,
		OriginalPrompt: req.OriginalPrompt,
		Provider:       win.key,
		Model:          win.result.Meta.Model,
		Guidance:       req.Guidance,
		Public:         req.Options.AutoPublic,
		ImageBase64:    win.result.ImageBase64,
	}
	return circuitbreaker.Execute(ctx, s.deps.Breakers, DatabaseBreaker, circuitbreaker.Config{},
		func(ctx context.Context) (*StoredImage, error) {
			return s.deps.Store.SaveResult(ctx, record)
		})
}

// afterSuccess starts the tagging and transaction log side effects. Neither is awaited.
func (s *GenerationService) afterSuccess(
	ctx context.Context,
	req *GenerationRequest,
	prompt string,
	win *winner,
	stored *StoredImage,
	cost float64,
) {
	if s.deps.Tagger != nil {
		s.deps.Detacher.Go(ctx, "tag-image", func(ctx context.Context) error {
			return s.deps.Tagger.TagImage(ctx, stored.ID, prompt)
		})
	}

	if s.deps.Events != nil {
		data := map[string]interface{}{
			"image_id":       stored.ID,
			"user_id":        req.UserID,
			"provider":       win.key,
			"model":          win.result.Meta.Model,
			"cost":           cost,
			"provider_index": win.index,
			"duration_ms":    win.result.Meta.Duration.Milliseconds(),
		}
		s.deps.Detacher.Go(ctx, "transaction-log", func(ctx context.Context) error {
			s.deps.Events.Publish(ctx, EventGenerationCompleted, data)
			return nil
		})
	}
}

func failureOf(key string, result ImageResult) ProviderFailure {
	perr := result.Failure
	if perr == nil {
		perr = NewProviderError(key, CodeUnknown, "provider returned no image")
	}
	return ProviderFailure{
		Provider:   key,
		Error:      perr.Message,
		Type:       perr.Code,
		StatusCode: perr.StatusCode,
		Retryable:  perr.Retryable,
	}
}

// toProviderError classifies whatever the breaker and retry layers returned.
func toProviderError(ctx context.Context, key string, err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}

	var open *circuitbreaker.OpenError
	if errors.As(err, &open) {
		return NewProviderError(key, CodeProviderUnavailable,
			fmt.Sprintf("circuit open, retry after %ds", open.RetryAfterSeconds())).WithCause(err)
	}

	return ClassifyTransportError(ctx, key, err)
}

// providerFailureError maps an aggregate failure to 400 when every provider
// rejected the request itself, and to 503 otherwise.
func providerFailureError(requestID string, err error) *GenerationError {
	status := http.StatusServiceUnavailable

	var all *AllProvidersFailedError
	if errors.As(err, &all) && len(all.Failures) > 0 {
		rejected := true
		for _, f := range all.Failures {
			if f.Type != CodeContentPolicy && f.Type != CodeInvalidParams {
				rejected = false
				break
			}
		}
		if rejected {
			status = http.StatusBadRequest
		}
	}

	return &GenerationError{
		RequestID:  requestID,
		StatusCode: status,
		Message:    err.Error(),
		Err:        err,
	}
}

// asGenerationError maps errors surfacing from the queue to the user-visible statuses.
func asGenerationError(requestID string, err error) *GenerationError {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr
	}

	var limited *queue.RateLimitedError
	switch {
	case errors.As(err, &limited):
		return &GenerationError{
			RequestID:  requestID,
			StatusCode: http.StatusTooManyRequests,
			Message:    fmt.Sprintf("rate limit exceeded, retry after %s", limited.RetryAfter.Round(time.Second)),
			Err:        err,
		}
	case errors.Is(err, queue.ErrTimeout):
		return &GenerationError{RequestID: requestID, StatusCode: http.StatusServiceUnavailable, Message: "generation timed out", Err: err}
	case errors.Is(err, queue.ErrQueueFull):
		return &GenerationError{RequestID: requestID, StatusCode: http.StatusServiceUnavailable, Message: "generation queue is full", Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &GenerationError{RequestID: requestID, StatusCode: http.StatusServiceUnavailable, Message: "request cancelled", Err: err}
	default:
		return &GenerationError{RequestID: requestID, StatusCode: http.StatusInternalServerError, Message: "internal error", Err: err}
	}
}

// NewFailureResult converts an error into the failure shape returned to callers.
func NewFailureResult(err error) FailureResult {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return FailureResult{
			Success:    false,
			Error:      genErr.Message,
			RequestID:  genErr.RequestID,
			StatusCode: genErr.StatusCode,
		}
	}
	return FailureResult{
		Success:    false,
		Error:      "internal error",
		StatusCode: http.StatusInternalServerError,
	}
}

type noopMetrics struct{}

func (noopMetrics) ProviderAttempt(string, string) {}
func (noopMetrics) GenerationCompleted(int)        {}
func (noopMetrics) Refund(string)                  {}
