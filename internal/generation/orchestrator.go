// Package generation runs a generation request from admission to its single
// terminal write: analysis, prompt synthesis, bounded fan-out, aggregation and
// quota settlement.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gensvc/internal/domain"
	"gensvc/internal/domain/jsoncfg"
	"gensvc/internal/metrics"
	imgprov "gensvc/internal/providers/image"
	"gensvc/internal/providers/prompt"
	"gensvc/internal/quota"
	"gensvc/internal/storage"
)

const (
	defaultConcurrency = 4
	defaultItemTimeout = 90 * time.Second
	defaultDeadline    = 5 * time.Minute
)

// Ledger is the quota side of the pipeline. *quota.Ledger satisfies it.
type Ledger interface {
	CheckAdmission(ctx context.Context, userID string, units int) (quota.Admission, error)
	Commit(ctx context.Context, adm quota.Admission, requestID string) error
	Release(ctx context.Context, adm quota.Admission, requestID string) error
	RecordAnalytics(ctx context.Context, userID, requestID string, usage domain.TokenUsage, props map[string]any)
	RecordOutcome(ctx context.Context, outcome quota.Outcome)
}

// Assets stores pipeline inputs and outputs. *storage.AssetStore satisfies it.
type Assets interface {
	Upload(ctx context.Context, in storage.UploadInput) (storage.Locator, error)
	Purge(ctx context.Context, key string) error
}

// MediaFetcher downloads user media submitted by URL.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Providers binds each capability to a configured provider. A channel whose
// capabilities are missing is rejected before admission.
type Providers struct {
	Analyzer    prompt.Analyzer
	Synthesizer prompt.Synthesizer
	Captions    prompt.CaptionWriter
	Generator   imgprov.Generator
	Editor      imgprov.Editor
	Varier      imgprov.Varier
}

// Options tunes the orchestrator. Zero values fall back to defaults.
type Options struct {
	Channels     jsoncfg.Channels
	Concurrency  int
	ItemRetries  int
	ItemTimeout  time.Duration
	Deadline     time.Duration
	EphemeralTTL time.Duration
	Fetcher      MediaFetcher
	Now          func() time.Time
	Logger       *zerolog.Logger
}

// Orchestrator drives generation requests.
type Orchestrator struct {
	requests  domain.RequestRepository
	results   domain.ResultRepository
	ledger    Ledger
	assets    Assets
	providers Providers

	channels     jsoncfg.Channels
	concurrency  int
	retries      int
	itemTimeout  time.Duration
	deadline     time.Duration
	ephemeralTTL time.Duration
	fetcher      MediaFetcher
	now          func() time.Time
	newID        func() string
	encode       func(v any) ([]byte, error)
	logger       zerolog.Logger
}

// New constructs an Orchestrator.
func New(requests domain.RequestRepository, results domain.ResultRepository, ledger Ledger, assets Assets, providers Providers, opts Options) *Orchestrator {
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "generation").Logger()
	}
	channels := opts.Channels
	if channels == nil {
		channels = jsoncfg.DefaultChannels()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	retries := opts.ItemRetries
	if retries < 0 {
		retries = 0
	}
	if retries > 1 {
		retries = 1
	}
	itemTimeout := opts.ItemTimeout
	if itemTimeout <= 0 {
		itemTimeout = defaultItemTimeout
	}
	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	ttl := opts.EphemeralTTL
	if ttl <= 0 {
		ttl = storage.DefaultEphemeralTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		requests:     requests,
		results:      results,
		ledger:       ledger,
		assets:       assets,
		providers:    providers,
		channels:     channels,
		concurrency:  concurrency,
		retries:      retries,
		itemTimeout:  itemTimeout,
		deadline:     deadline,
		ephemeralTTL: ttl,
		fetcher:      opts.Fetcher,
		now:          now,
		newID:        uuid.NewString,
		encode:       json.Marshal,
		logger:       logger,
	}
}

// Handle is what Submit returns once the request reached a terminal state.
type Handle struct {
	RequestID      string
	Status         domain.RequestStatus
	Results        []Artifact
	ErrorMessage   string
	ProcessingTime time.Duration
}

// SubmitOption adjusts a single submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	locale  string
	country string
}

// WithLocale sets the locale used when the ChannelSpec carries none.
func WithLocale(locale string) SubmitOption {
	return func(o *submitOptions) { o.locale = strings.TrimSpace(locale) }
}

// WithCountry tags analytics events with the caller's country.
func WithCountry(country string) SubmitOption {
	return func(o *submitOptions) { o.country = strings.ToUpper(strings.TrimSpace(country)) }
}

// Channel returns the configuration for ch.
func (o *Orchestrator) Channel(ch domain.Channel) (jsoncfg.ChannelConfig, bool) {
	cfg, ok := o.channels[ch]
	return cfg, ok
}

// Submit validates spec, reserves quota and runs the pipeline to a terminal
// state. Validation and quota denials return an error before any request row
// exists. Once the row exists the returned error is nil and the outcome is
// carried by the Handle, except when the terminal write itself fails.
func (o *Orchestrator) Submit(ctx context.Context, userID string, spec jsoncfg.ChannelSpec, opts ...SubmitOption) (*Handle, error) {
	var so submitOptions
	for _, opt := range opts {
		opt(&so)
	}
	start := o.now()

	cfg, err := o.prepare(&spec, so.locale)
	if err != nil {
		return nil, err
	}
	units := cfg.UnitsNeeded(spec)
	adm, err := o.ledger.CheckAdmission(ctx, userID, units)
	if err != nil {
		return nil, err
	}

	// Everything after admission must settle the reservation, so it runs
	// detached from the caller's cancellation.
	bg := context.WithoutCancel(ctx)

	requestID := o.newID()
	input, err := o.encode(spec.Sanitized())
	if err != nil {
		o.release(bg, adm, requestID)
		return nil, fmt.Errorf("encode spec: %w", err)
	}
	req := &domain.GenerationRequest{
		ID:            requestID,
		UserID:        userID,
		Channel:       spec.Channel,
		Status:        domain.StatusProcessing,
		Input:         input,
		OutputCount:   spec.OutputCount,
		UnitsReserved: units,
		CreatedAt:     o.now().UTC(),
	}
	if err := o.requests.Create(bg, req); err != nil {
		o.release(bg, adm, req.ID)
		return nil, fmt.Errorf("create request: %w", err)
	}

	r := &run{
		o:       o,
		req:     req,
		spec:    spec,
		cfg:     cfg,
		country: so.country,
		logger: o.logger.With().
			Str("request_id", req.ID).
			Str("user_id", userID).
			Str("channel", string(spec.Channel)).
			Logger(),
	}
	r.logger.Info().Int("outputs", spec.OutputCount).Int("units", units).Msg("request admitted")

	deadlineCtx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()
	decision := r.execute(deadlineCtx, bg)

	handle, err := r.finalize(bg, adm, decision)
	elapsed := o.now().Sub(start)
	metrics.RecordRequest(string(spec.Channel), strings.ToLower(string(decision.Status)), elapsed.Seconds())
	if err != nil {
		return nil, err
	}
	handle.ProcessingTime = elapsed
	return handle, nil
}

// prepare normalizes and validates spec. It has no side effects.
func (o *Orchestrator) prepare(spec *jsoncfg.ChannelSpec, locale string) (jsoncfg.ChannelConfig, error) {
	ch := domain.Channel(strings.ToLower(strings.TrimSpace(string(spec.Channel))))
	cfg, ok := o.channels[ch]
	if !ok || !ch.Valid() {
		return jsoncfg.ChannelConfig{}, &domain.ValidationError{Field: "channel", Reason: fmt.Sprintf("unsupported channel %q", spec.Channel)}
	}
	spec.Normalize(locale, cfg)
	if err := spec.Validate(cfg); err != nil {
		return jsoncfg.ChannelConfig{}, err
	}
	if spec.Media != nil && spec.Media.DataBase64 == "" && o.fetcher == nil {
		return jsoncfg.ChannelConfig{}, &domain.ValidationError{Field: "media.url", Reason: "media by URL is not supported"}
	}
	if err := o.supports(spec.Channel, spec.Prompt); err != nil {
		return jsoncfg.ChannelConfig{}, err
	}
	return cfg, nil
}

func (o *Orchestrator) supports(ch domain.Channel, userPrompt string) error {
	p := o.providers
	missing := p.Synthesizer == nil
	switch ch {
	case domain.ChannelImage:
		missing = missing || p.Generator == nil
	case domain.ChannelCaption:
		missing = missing || p.Captions == nil
	case domain.ChannelThumbnail:
		if userPrompt == "" {
			missing = p.Varier == nil && p.Editor == nil
		} else {
			missing = missing || p.Editor == nil
		}
	}
	if missing {
		return &domain.ValidationError{Field: "channel", Reason: fmt.Sprintf("channel %q is not available", ch)}
	}
	return nil
}

func (o *Orchestrator) release(ctx context.Context, adm quota.Admission, requestID string) {
	if err := o.ledger.Release(ctx, adm, requestID); err != nil {
		o.logger.Error().Err(err).Str("request_id", requestID).Str("user_id", adm.UserID).Msg("release reservation failed")
	}
}

// finalize writes the terminal state, settles quota, and records analytics.
func (r *run) finalize(ctx context.Context, adm quota.Admission, d Decision) (*Handle, error) {
	o := r.o
	message := r.userMessage(d)

	if d.Status == domain.StatusCompleted {
		if err := r.persistResults(ctx, d.Artifacts); err != nil {
			r.logger.Error().Err(err).Msg("persist results failed")
			r.discardResults(ctx)
			d = Decision{Status: domain.StatusFailed, Artifacts: d.Artifacts, Failures: d.Failures, Err: err}
			message = "Failed to save results"
		}
	}

	if err := r.writeTerminal(ctx, d.Status, message); err != nil {
		r.logger.Error().Err(err).Str("status", string(d.Status)).Msg("terminal write failed")
		if d.Status == domain.StatusCompleted {
			r.discardResults(ctx)
			d = Decision{Status: domain.StatusFailed, Artifacts: d.Artifacts, Failures: d.Failures, Err: err}
			message = "Failed to finalize request"
			if retryErr := r.writeTerminal(ctx, d.Status, message); retryErr != nil {
				r.logger.Error().Err(retryErr).Msg("terminal write failed")
			}
		}
		o.release(ctx, adm, r.req.ID)
		r.purge(ctx, d.Artifacts)
		r.recordAnalytics(ctx, d)
		return nil, fmt.Errorf("finalize request %s: %w", r.req.ID, err)
	}

	if d.Status == domain.StatusCompleted {
		if err := o.ledger.Commit(ctx, adm, r.req.ID); err != nil {
			r.logger.Error().Err(err).Int("units", adm.Units).Msg("commit reservation failed")
		}
	} else {
		o.release(ctx, adm, r.req.ID)
		r.purge(ctx, d.Artifacts)
	}
	r.recordAnalytics(ctx, d)

	handle := &Handle{
		RequestID:    r.req.ID,
		Status:       d.Status,
		ErrorMessage: message,
	}
	if d.Status == domain.StatusCompleted {
		handle.Results = d.Artifacts
	}
	r.logger.Info().
		Str("status", string(d.Status)).
		Int("artifacts", len(d.Artifacts)).
		Int("failures", d.Failures).
		Str("reason", message).
		Msg("request finished")
	return handle, nil
}

func (r *run) userMessage(d Decision) string {
	if d.Status == domain.StatusCompleted {
		return ""
	}
	if r.stageMessage != "" {
		return r.stageMessage
	}
	var insufficient *domain.InsufficientResultsError
	if errors.As(d.Err, &insufficient) {
		return insufficient.Error()
	}
	return "Generation failed"
}

func (r *run) persistResults(ctx context.Context, artifacts []Artifact) error {
	now := r.o.now().UTC()
	for _, a := range artifacts {
		res := &domain.GenerationResult{
			ID:          r.o.newID(),
			RequestID:   r.req.ID,
			Index:       a.Index,
			URL:         a.URL,
			StorageKey:  a.StorageKey,
			ContentType: a.ContentType,
			Variant:     a.Variant,
			Text:        a.Text,
			CreatedAt:   now,
		}
		if err := r.o.results.Append(ctx, res); err != nil {
			return fmt.Errorf("append result %d: %w", a.Index, err)
		}
	}
	return nil
}

// discardResults removes result rows so a failed request never lists outputs.
func (r *run) discardResults(ctx context.Context) {
	if err := r.o.results.DeleteByRequest(ctx, r.req.ID); err != nil {
		r.logger.Error().Err(err).Msg("discard results failed")
	}
}

func (r *run) writeTerminal(ctx context.Context, status domain.RequestStatus, message string) error {
	completedAt := r.o.now().UTC()
	providers := r.providers
	tokens := r.tokens
	update := domain.RequestUpdate{
		Status:      status,
		Providers:   &providers,
		Tokens:      &tokens,
		CompletedAt: &completedAt,
	}
	if r.enhancedPrompt != "" {
		enhanced := r.enhancedPrompt
		update.EnhancedPrompt = &enhanced
	}
	if message != "" {
		update.ErrorMessage = &message
	}
	return r.o.requests.Update(ctx, r.req.ID, update)
}

// purge removes stored outputs of a run that did not complete. Failures are
// logged; the objects were never referenced by a result row.
func (r *run) purge(ctx context.Context, artifacts []Artifact) {
	for _, a := range artifacts {
		if a.StorageKey == "" {
			continue
		}
		if err := r.o.assets.Purge(ctx, a.StorageKey); err != nil {
			r.logger.Warn().Err(err).Str("key", a.StorageKey).Msg("purge artifact failed")
		}
	}
}

func (r *run) recordAnalytics(ctx context.Context, d Decision) {
	o := r.o
	props := map[string]any{
		"channel": string(r.spec.Channel),
		"status":  string(d.Status),
		"outputs": r.spec.OutputCount,
	}
	if r.country != "" {
		props["country"] = r.country
	}
	for _, usage := range r.snapshotUsages() {
		o.ledger.RecordAnalytics(ctx, r.req.UserID, r.req.ID, usage, props)
	}
	o.ledger.RecordOutcome(ctx, quota.Outcome{
		Status:      d.Status,
		Artifacts:   len(d.Artifacts),
		ItemsFailed: d.Failures,
	})
}
