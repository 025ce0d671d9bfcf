package generation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gensvc/internal/domain"
	imgprov "gensvc/internal/providers/image"
	"gensvc/internal/providers/prompt"
	"gensvc/internal/quota"
	"gensvc/internal/storage"
)

type memRequests struct {
	mu      sync.Mutex
	rows    map[string]*domain.GenerationRequest
	created int
	updates []domain.RequestUpdate
	// failCompleted rejects COMPLETED terminal writes.
	failCompleted bool
	// accounts answers settlement lookups for ListUnsettled.
	accounts *memAccounts
}

func newMemRequests() *memRequests {
	return &memRequests{rows: map[string]*domain.GenerationRequest{}}
}

func (m *memRequests) Create(ctx context.Context, req *domain.GenerationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.rows[req.ID] = &cp
	m.created++
	return nil
}

func (m *memRequests) Update(ctx context.Context, id string, u domain.RequestUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	if row.Status.IsTerminal() {
		return domain.ErrAlreadyFinalized
	}
	if !row.Status.CanTransition(u.Status) {
		return fmt.Errorf("invalid transition %s -> %s", row.Status, u.Status)
	}
	if m.failCompleted && u.Status == domain.StatusCompleted {
		return errors.New("connection reset")
	}
	m.updates = append(m.updates, u)
	row.Status = u.Status
	if u.EnhancedPrompt != nil {
		row.EnhancedPrompt = *u.EnhancedPrompt
	}
	if u.Providers != nil {
		row.Providers = *u.Providers
	}
	if u.Tokens != nil {
		row.Tokens = *u.Tokens
	}
	if u.ErrorMessage != nil {
		row.ErrorMessage = *u.ErrorMessage
	}
	if u.CompletedAt != nil {
		row.CompletedAt = u.CompletedAt
	}
	return nil
}

func (m *memRequests) ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]domain.GenerationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GenerationRequest
	for _, row := range m.rows {
		if row.UnitsReserved > 0 && row.CreatedAt.Before(cutoff) && !m.accounts.isSettled(row.ID) {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRequests) GetForUser(ctx context.Context, id, userID string) (*domain.GenerationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.UserID != userID {
		return nil, domain.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *memRequests) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.GenerationRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.GenerationRequest
	for _, row := range m.rows {
		if row.UserID == userID {
			all = append(all, *row)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memRequests) DeleteForUser(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.UserID != userID {
		return domain.ErrNotFound
	}
	if !row.Status.IsTerminal() {
		return domain.ErrRequestInProgress
	}
	delete(m.rows, id)
	return nil
}

func (m *memRequests) get(id string) domain.GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

func (m *memRequests) terminalWrites(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.updates {
		if u.Status.IsTerminal() {
			n++
		}
	}
	return n
}

type memResults struct {
	mu      sync.Mutex
	rows    []domain.GenerationResult
	err     error
	failOn  int // 1-based Append call that returns err; 0 fails every call
	appends int
}

func (m *memResults) Append(ctx context.Context, r *domain.GenerationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	if m.err != nil && (m.failOn == 0 || m.failOn == m.appends) {
		return m.err
	}
	m.rows = append(m.rows, *r)
	return nil
}

func (m *memResults) ListByRequest(ctx context.Context, requestID string) ([]domain.GenerationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GenerationResult
	for _, r := range m.rows {
		if r.RequestID == requestID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *memResults) DeleteByRequest(ctx context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	for _, r := range m.rows {
		if r.RequestID != requestID {
			kept = append(kept, r)
		}
	}
	m.rows = kept
	return nil
}

// memAccounts mirrors the conditional reserve of the SQL quota repository.
type memAccounts struct {
	mu       sync.Mutex
	accounts map[string]*domain.QuotaAccount
	settled  map[string]string
	reserves int
}

func newMemAccounts(accts ...domain.QuotaAccount) *memAccounts {
	m := &memAccounts{accounts: map[string]*domain.QuotaAccount{}, settled: map[string]string{}}
	for i := range accts {
		a := accts[i]
		m.accounts[a.UserID] = &a
	}
	return m
}

func (m *memAccounts) Find(ctx context.Context, userID string) (*domain.QuotaAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) Reserve(ctx context.Context, userID string, units int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserves++
	a := m.accounts[userID]
	if !a.Unlimited() && a.RequestsUsed+a.RequestsReserved+units > a.RequestsLimit {
		return false, nil
	}
	a.RequestsReserved += units
	return true, nil
}

func (m *memAccounts) Commit(ctx context.Context, userID, requestID string, units int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.settled[requestID]; done {
		return false, nil
	}
	m.settled[requestID] = "commit"
	a := m.accounts[userID]
	a.RequestsUsed += units
	a.RequestsReserved -= units
	return true, nil
}

func (m *memAccounts) Release(ctx context.Context, userID, requestID string, units int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.settled[requestID]; done {
		return nil
	}
	m.settled[requestID] = "release"
	m.accounts[userID].RequestsReserved -= units
	return nil
}

func (m *memAccounts) isSettled(requestID string) bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.settled[requestID]
	return ok
}

func (m *memAccounts) account(userID string) domain.QuotaAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.accounts[userID]
}

type memUsage struct {
	mu     sync.Mutex
	events []domain.TokenUsage
	props  []map[string]any
}

func (m *memUsage) InsertUsageEvent(ctx context.Context, userID, requestID string, usage domain.TokenUsage, props map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, usage)
	m.props = append(m.props, props)
	return nil
}

type memAssets struct {
	mu       sync.Mutex
	seq      int
	objects  map[string][]byte
	inputs   map[string]storage.UploadInput
	purged   []string
	failWhen func(storage.UploadInput) bool
}

func newMemAssets() *memAssets {
	return &memAssets{objects: map[string][]byte{}, inputs: map[string]storage.UploadInput{}}
}

func (m *memAssets) Upload(ctx context.Context, in storage.UploadInput) (storage.Locator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWhen != nil && m.failWhen(in) {
		return storage.Locator{}, &domain.StorageError{Op: "put", Err: errors.New("disk full")}
	}
	m.seq++
	key := fmt.Sprintf("%s/%s/%03d", in.Prefix, in.OwnerID, m.seq)
	m.objects[key] = append([]byte(nil), in.Data...)
	m.inputs[key] = in
	ct := in.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return storage.Locator{Key: key, URL: "https://cdn.test/" + key, ContentType: ct, Size: len(in.Data)}, nil
}

func (m *memAssets) Purge(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.purged = append(m.purged, key)
	return nil
}

func (m *memAssets) ephemeralKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k, in := range m.inputs {
		if in.Ephemeral {
			keys = append(keys, k)
		}
	}
	return keys
}

type stubSynth struct {
	calls int
	err   error
}

func (s *stubSynth) Synthesize(ctx context.Context, req prompt.SynthesisRequest) (*prompt.Synthesis, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &prompt.Synthesis{
		Prompt:   "enhanced " + req.Prompt,
		Provider: "stub/synth",
		Usage:    &domain.TokenUsage{Provider: "stub", Model: "synth", Stage: "prompt", Counters: domain.TokenCounters{Input: 10, Output: 5, Total: 15}},
	}, nil
}

// stubGenerator produces one PNG-labelled artifact per call; the payload
// records the variation index parsed from the prompt.
type stubGenerator struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	delay   func(prompt string) time.Duration
	fail    func(prompt string, attempt int) error
	tries   map[string]int
}

func (g *stubGenerator) Name() string { return "stubimg" }

func (g *stubGenerator) GenerateImages(ctx context.Context, req imgprov.GenerateRequest) ([]domain.Artifact, error) {
	g.mu.Lock()
	g.calls++
	g.prompts = append(g.prompts, req.Prompt)
	if g.tries == nil {
		g.tries = map[string]int{}
	}
	g.tries[req.Prompt]++
	attempt := g.tries[req.Prompt]
	g.mu.Unlock()

	if g.delay != nil {
		select {
		case <-time.After(g.delay(req.Prompt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.fail != nil {
		if err := g.fail(req.Prompt, attempt); err != nil {
			return nil, err
		}
	}
	return []domain.Artifact{{Data: []byte("img:" + req.Prompt), ContentType: "image/png"}}, nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type stubEditor struct {
	mu           sync.Mutex
	instructions []string
}

func (e *stubEditor) Name() string { return "stubedit" }

func (e *stubEditor) EditImage(ctx context.Context, req imgprov.EditRequest) ([]domain.Artifact, error) {
	e.mu.Lock()
	e.instructions = append(e.instructions, req.Prompt)
	e.mu.Unlock()
	if len(req.Image) == 0 {
		return nil, errors.New("missing source image")
	}
	return []domain.Artifact{{Data: []byte("edit:" + req.Prompt), ContentType: "image/png"}}, nil
}

type stubCaptions struct{}

func (stubCaptions) WriteCaption(ctx context.Context, req prompt.CaptionRequest) (*prompt.Caption, error) {
	tone := prompt.CaptionTone(req.Variant)
	return &prompt.Caption{
		Text:     fmt.Sprintf("%s caption %d", strings.ToUpper(tone[:1])+tone[1:], req.Variant),
		Tone:     tone,
		Provider: "stub/captions",
		Usage:    &domain.TokenUsage{Provider: "stub", Stage: "caption", Counters: domain.TokenCounters{Input: 3, Output: 2}},
	}, nil
}

type fixture struct {
	requests *memRequests
	results  *memResults
	accounts *memAccounts
	usage    *memUsage
	assets   *memAssets
	synth    *stubSynth
	gen      *stubGenerator
	editor   *stubEditor
	orch     *Orchestrator
}

func newFixture(limit, used int, opts Options) *fixture {
	f := &fixture{
		requests: newMemRequests(),
		results:  &memResults{},
		accounts: newMemAccounts(domain.QuotaAccount{UserID: "u1", Plan: "free", RequestsLimit: limit, RequestsUsed: used}),
		usage:    &memUsage{},
		assets:   newMemAssets(),
		synth:    &stubSynth{},
		gen:      &stubGenerator{},
		editor:   &stubEditor{},
	}
	ledger := quota.NewLedger(f.accounts, quota.Options{Usage: f.usage})
	f.orch = New(f.requests, f.results, ledger, f.assets, Providers{
		Synthesizer: f.synth,
		Captions:    stubCaptions{},
		Generator:   f.gen,
		Editor:      f.editor,
	}, opts)
	return f
}
