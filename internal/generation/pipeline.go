package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"gensvc/internal/domain"
	"gensvc/internal/domain/jsoncfg"
	"gensvc/internal/metrics"
	imgprov "gensvc/internal/providers/image"
	"gensvc/internal/providers/prompt"
	"gensvc/internal/storage"
)

const (
	stageMedia     = "media"
	stageAnalysis  = "analysis"
	stagePrompt    = "prompt"
	stageFanOut    = "fanout"
	textPlain      = "text/plain; charset=utf-8"
	resultsPrefix  = "results"
	uploadsPrefix  = "uploads"
	generationStep = "generation"
)

// ErrNotIssued marks fan-out items the deadline prevented from starting.
var ErrNotIssued = errors.New("item not issued before deadline")

// run carries the state of one request through the pipeline.
type run struct {
	o       *Orchestrator
	req     *domain.GenerationRequest
	spec    jsoncfg.ChannelSpec
	cfg     jsoncfg.ChannelConfig
	country string
	logger  zerolog.Logger

	media     []byte
	mediaMIME string
	analysis  string

	enhancedPrompt string
	negative       string
	providers      domain.StageProviders
	stageMessage   string

	mu     sync.Mutex
	tokens domain.TokenCounters
	usages []domain.TokenUsage
}

// produced is a provider output before it is stored.
type produced struct {
	artifact domain.Artifact
	variant  string
	provider string
	usage    *domain.TokenUsage
}

type itemFunc func(ctx context.Context, index int) (*produced, error)

// execute runs the stages and returns the aggregated decision. Stage failures
// end the run FAILED with a stable user-facing message; details are logged.
func (r *run) execute(deadlineCtx, bg context.Context) Decision {
	if err := r.loadMedia(deadlineCtx, bg); err != nil {
		return r.fail(stageMedia, "Failed to store media", err)
	}

	if r.cfg.Analysis && (len(r.media) > 0 || r.contextText() != "") && r.o.providers.Analyzer != nil {
		r.advance(bg, domain.StatusAnalyzing)
		if err := r.analyze(deadlineCtx); err != nil {
			return r.fail(stageAnalysis, "Media analysis failed", err)
		}
	}

	r.advance(bg, domain.StatusGenerating)
	if err := r.synthesize(deadlineCtx); err != nil {
		return r.fail(stagePrompt, "Prompt synthesis failed", err)
	}

	item, err := r.itemFor()
	if err != nil {
		return r.fail(stageFanOut, "Generation provider unavailable", err)
	}
	started := time.Now()
	outcomes := r.fanOut(deadlineCtx, bg, r.spec.OutputCount, item)
	d := Aggregate(outcomes, r.cfg.MinSuccessFor(r.spec.OutputCount), r.cfg.NounOrDefault())
	metrics.RecordStage(stageFanOut, strings.ToLower(string(d.Status)), time.Since(started).Seconds())
	if r.providers.Generation == "" {
		r.providers.Generation = r.generationProvider(d)
	}
	r.noteGenerationUsage(outcomes)
	return d
}

func (r *run) fail(stage, message string, err error) Decision {
	r.stageMessage = message
	r.logger.Warn().Err(err).Str("stage", stage).Msg("stage failed")
	return Decision{Status: domain.StatusFailed, Err: err}
}

// advance records a non-terminal status. The row is advisory while the run
// is in flight, so a failed write is only logged.
func (r *run) advance(ctx context.Context, status domain.RequestStatus) {
	if err := r.o.requests.Update(ctx, r.req.ID, domain.RequestUpdate{Status: status}); err != nil {
		r.logger.Warn().Err(err).Str("status", string(status)).Msg("status update failed")
		return
	}
	r.req.Status = status
}

func (r *run) contextText() string {
	if !r.spec.IncludeContext {
		return ""
	}
	return r.spec.Context
}

// loadMedia decodes or downloads the user's media and keeps a copy as an
// ephemeral asset.
func (r *run) loadMedia(deadlineCtx, bg context.Context) error {
	if r.spec.Media == nil {
		return nil
	}
	started := time.Now()
	data, err := r.spec.MediaBytes()
	if err != nil {
		return &domain.ValidationError{Field: "media.data_base64", Reason: "must be valid base64"}
	}
	mediaType := r.spec.Media.MIME
	if len(data) == 0 && r.spec.Media.URL != "" {
		fetched, ct, err := r.o.fetcher.Fetch(deadlineCtx, r.spec.Media.URL)
		if err != nil {
			metrics.RecordStage(stageMedia, "error", time.Since(started).Seconds())
			return fmt.Errorf("fetch media: %w", err)
		}
		data = fetched
		if mediaType == "" {
			mediaType = ct
		}
	}
	loc, err := r.o.assets.Upload(bg, storage.UploadInput{
		OwnerID:     r.req.UserID,
		RequestID:   r.req.ID,
		Prefix:      uploadsPrefix,
		Data:        data,
		ContentType: mediaType,
		Ephemeral:   true,
		TTL:         r.o.ephemeralTTL,
	})
	metrics.RecordStage(stageMedia, metrics.Status(err), time.Since(started).Seconds())
	if err != nil {
		return err
	}
	r.media = data
	r.mediaMIME = loc.ContentType
	return nil
}

func (r *run) analyze(ctx context.Context) error {
	started := time.Now()
	res, err := r.o.providers.Analyzer.Analyze(ctx, prompt.AnalysisRequest{
		Media:     r.media,
		MediaMIME: r.mediaMIME,
		Context:   r.contextText(),
		Locale:    r.spec.Locale,
	})
	metrics.RecordStage(stageAnalysis, metrics.Status(err), time.Since(started).Seconds())
	if err != nil {
		return err
	}
	r.analysis = strings.TrimSpace(res.Summary)
	r.providers.Analysis = res.Provider
	r.addUsage(res.Usage)
	return nil
}

// synthesize turns the user prompt, context and analysis into the prompt
// used by every fan-out item. Nothing to synthesize from leaves it empty.
func (r *run) synthesize(ctx context.Context) error {
	if r.spec.Prompt == "" && r.analysis == "" {
		return nil
	}
	if r.o.providers.Synthesizer == nil {
		r.enhancedPrompt = r.spec.Prompt
		return nil
	}
	started := time.Now()
	res, err := r.o.providers.Synthesizer.Synthesize(ctx, prompt.SynthesisRequest{
		Channel:     r.spec.Channel,
		Prompt:      r.spec.Prompt,
		Style:       r.spec.Style,
		AspectRatio: r.spec.AspectRatio,
		Locale:      r.spec.Locale,
		Context:     r.contextText(),
		Analysis:    r.analysis,
	})
	metrics.RecordStage(stagePrompt, metrics.Status(err), time.Since(started).Seconds())
	if err != nil {
		return err
	}
	r.enhancedPrompt = strings.TrimSpace(res.Prompt)
	r.negative = res.NegativePrompt
	r.providers.Prompt = res.Provider
	r.addUsage(res.Usage)
	return nil
}

// itemFor picks the per-item producer for the channel.
func (r *run) itemFor() (itemFunc, error) {
	p := r.o.providers
	switch r.spec.Channel {
	case domain.ChannelImage:
		if p.Generator == nil {
			return nil, errors.New("no image generator configured")
		}
		return r.generateItem, nil
	case domain.ChannelCaption:
		if p.Captions == nil {
			return nil, errors.New("no caption writer configured")
		}
		return r.captionItem, nil
	case domain.ChannelThumbnail:
		if len(r.media) == 0 {
			return nil, errors.New("thumbnail requires source media")
		}
		if r.spec.Prompt == "" && p.Varier != nil {
			return r.varyItem, nil
		}
		if p.Editor == nil {
			return nil, errors.New("no image editor configured")
		}
		return r.editItem, nil
	}
	return nil, fmt.Errorf("unsupported channel %q", r.spec.Channel)
}

func (r *run) generateItem(ctx context.Context, index int) (*produced, error) {
	gen := r.o.providers.Generator
	text := r.enhancedPrompt
	if r.spec.OutputCount > 1 {
		text = imgprov.VariationPrompt(text, r.spec.OutputCount, index)
	}
	arts, err := gen.GenerateImages(ctx, imgprov.GenerateRequest{
		Prompt:         text,
		NegativePrompt: r.negative,
		Count:          1,
		AspectRatio:    r.spec.AspectRatio,
		Style:          r.spec.Style,
		Quality:        r.spec.Quality,
	})
	return firstArtifact(gen.Name(), "", arts, err)
}

func (r *run) editItem(ctx context.Context, index int) (*produced, error) {
	ed := r.o.providers.Editor
	v := imgprov.VariantFor(index)
	arts, err := ed.EditImage(ctx, imgprov.EditRequest{
		Image:       r.media,
		MIME:        r.mediaMIME,
		Prompt:      imgprov.EditInstruction(r.enhancedPrompt, v),
		AspectRatio: r.spec.AspectRatio,
	})
	return firstArtifact(ed.Name(), v.Name, arts, err)
}

func (r *run) varyItem(ctx context.Context, index int) (*produced, error) {
	vr := r.o.providers.Varier
	v := imgprov.VariantFor(index)
	arts, err := vr.VaryImage(ctx, imgprov.VariationRequest{
		Image:       r.media,
		MIME:        r.mediaMIME,
		Count:       1,
		AspectRatio: r.spec.AspectRatio,
	})
	return firstArtifact(vr.Name(), v.Name, arts, err)
}

func (r *run) captionItem(ctx context.Context, index int) (*produced, error) {
	base := r.enhancedPrompt
	if base == "" {
		base = r.analysis
	}
	c, err := r.o.providers.Captions.WriteCaption(ctx, prompt.CaptionRequest{
		Prompt:  base,
		Locale:  r.spec.Locale,
		Variant: index,
	})
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(c.Text)
	if text == "" {
		return nil, &domain.ProviderError{Provider: c.Provider, Capability: "caption", Err: errors.New("empty caption")}
	}
	return &produced{
		artifact: domain.Artifact{Text: text, ContentType: textPlain},
		variant:  c.Tone,
		provider: c.Provider,
		usage:    c.Usage,
	}, nil
}

func firstArtifact(provider, variant string, arts []domain.Artifact, err error) (*produced, error) {
	if err != nil {
		return nil, err
	}
	for _, a := range arts {
		if a.Inline() {
			return &produced{artifact: a, variant: variant, provider: provider}, nil
		}
	}
	return nil, &domain.ProviderError{Provider: provider, Capability: "generate", Err: errors.New("no artifact returned")}
}

// fanOut runs n items with bounded concurrency. Items are issued in
// submission order until deadlineCtx ends; unissued items fail with
// ErrNotIssued. Issued items run to completion under their own timeout.
func (r *run) fanOut(deadlineCtx, bg context.Context, n int, item itemFunc) []Outcome {
	outcomes := make([]Outcome, n)
	for i := range outcomes {
		outcomes[i] = Outcome{Index: i + 1, Err: ErrNotIssued}
	}

	sem := semaphore.NewWeighted(int64(r.o.concurrency))
	var g errgroup.Group
	for i := 1; i <= n; i++ {
		if err := sem.Acquire(deadlineCtx, 1); err != nil {
			r.logger.Warn().Int("issued", i-1).Int("requested", n).Msg("deadline reached; not issuing remaining items")
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			art, err := r.runItem(bg, i, item)
			outcomes[i-1] = Outcome{Index: i, Artifact: art, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	for _, oc := range outcomes {
		switch {
		case oc.Err == nil:
			metrics.RecordItem(string(r.spec.Channel), "success")
		case errors.Is(oc.Err, ErrNotIssued):
			metrics.RecordItem(string(r.spec.Channel), "skipped")
		default:
			metrics.RecordItem(string(r.spec.Channel), "failure")
		}
	}
	return outcomes
}

// runItem produces one artifact (with at most one retry) and stores it.
func (r *run) runItem(ctx context.Context, index int, item itemFunc) (art *Artifact, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Int("index", index).Msg("item panicked")
			art, err = nil, fmt.Errorf("item %d panicked: %v", index, rec)
		}
	}()

	itemCtx, cancel := context.WithTimeout(ctx, r.o.itemTimeout)
	defer cancel()
	p, err := imgprov.Retry(itemCtx, r.o.retries, func(ctx context.Context) (*produced, error) {
		p, err := item(ctx, index)
		recordProviderCall(string(r.spec.Channel), p, err)
		return p, err
	})
	if err != nil {
		r.logger.Warn().Err(err).Int("index", index).Msg("item failed")
		return nil, err
	}
	r.addUsage(p.usage)

	data := p.artifact.Data
	if len(data) == 0 {
		data = []byte(p.artifact.Text)
	}
	loc, err := r.o.assets.Upload(ctx, storage.UploadInput{
		OwnerID:     r.req.UserID,
		RequestID:   r.req.ID,
		Prefix:      resultsPrefix,
		Data:        data,
		ContentType: p.artifact.ContentType,
	})
	if err != nil {
		r.logger.Warn().Err(err).Int("index", index).Msg("item upload failed")
		return nil, err
	}
	return &Artifact{
		Index:       index,
		StorageKey:  loc.Key,
		URL:         loc.URL,
		ContentType: loc.ContentType,
		Variant:     p.variant,
		Text:        p.artifact.Text,
		Provider:    p.provider,
	}, nil
}

func recordProviderCall(capability string, p *produced, err error) {
	provider := "unknown"
	var perr *domain.ProviderError
	switch {
	case p != nil && p.provider != "":
		provider = p.provider
	case errors.As(err, &perr) && perr.Provider != "":
		provider = perr.Provider
	}
	metrics.RecordProviderCall(provider, capability, metrics.Status(err))
}

func (r *run) generationProvider(d Decision) string {
	for _, a := range d.Artifacts {
		if a.Provider != "" {
			return a.Provider
		}
	}
	p := r.o.providers
	switch r.spec.Channel {
	case domain.ChannelImage:
		if p.Generator != nil {
			return p.Generator.Name()
		}
	case domain.ChannelThumbnail:
		if r.spec.Prompt == "" && p.Varier != nil {
			return p.Varier.Name()
		}
		if p.Editor != nil {
			return p.Editor.Name()
		}
	}
	return ""
}

// noteGenerationUsage records an analytics event for image providers, which
// report no token usage, whenever at least one item reached a provider.
func (r *run) noteGenerationUsage(outcomes []Outcome) {
	if r.spec.Channel == domain.ChannelCaption {
		return
	}
	for _, oc := range outcomes {
		if !errors.Is(oc.Err, ErrNotIssued) {
			r.mu.Lock()
			r.usages = append(r.usages, domain.TokenUsage{Provider: r.providers.Generation, Stage: generationStep})
			r.mu.Unlock()
			return
		}
	}
}

func (r *run) addUsage(u *domain.TokenUsage) {
	if u == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usages = append(r.usages, *u)
	r.tokens.Add(u.Counters)
}

func (r *run) snapshotUsages() []domain.TokenUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.TokenUsage, len(r.usages))
	copy(out, r.usages)
	return out
}
