package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gensvc/internal/domain"
	"gensvc/internal/infra"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

type memEphemeral struct {
	mu        sync.Mutex
	rows      map[string]domain.EphemeralAsset
	leased    map[string]bool
	createErr error
}

func newMemEphemeral() *memEphemeral {
	return &memEphemeral{rows: map[string]domain.EphemeralAsset{}, leased: map[string]bool{}}
}

func (m *memEphemeral) Create(_ context.Context, a *domain.EphemeralAsset) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = fmt.Sprintf("eph-%d", len(m.rows)+1)
	m.rows[a.StorageKey] = *a
	return nil
}

func (m *memEphemeral) ClaimExpired(_ context.Context, now time.Time, limit int) ([]domain.EphemeralAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.rows))
	for k := range m.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []domain.EphemeralAsset
	for _, k := range keys {
		a := m.rows[k]
		if m.leased[k] || a.ExpiresAt.After(now) {
			continue
		}
		m.leased[k] = true
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memEphemeral) DeleteByKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, key)
	delete(m.leased, key)
	return nil
}

func (m *memEphemeral) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type flakyStore struct {
	*FileStore
	failDelete map[string]bool
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if f.failDelete[key] {
		return errors.New("backend down")
	}
	return f.FileStore.Delete(ctx, key)
}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir(), "http://localhost:8080/static/")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return fs
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestFileStoreRoundTripAndIdempotentDelete(t *testing.T) {
	fs := newFileStore(t)
	ctx := context.Background()
	if err := fs.Put(ctx, "results/u1/a.png", pngBytes, "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, ct, err := fs.Get(ctx, "results/u1/a.png")
	if err != nil || !bytes.Equal(data, pngBytes) || ct != "image/png" {
		t.Fatalf("Get = %d bytes, %q, %v", len(data), ct, err)
	}
	if got := fs.URL("results/u1/a.png"); got != "http://localhost:8080/static/results/u1/a.png" {
		t.Fatalf("URL = %q", got)
	}
	for i := 0; i < 2; i++ {
		if err := fs.Delete(ctx, "results/u1/a.png"); err != nil {
			t.Fatalf("Delete #%d: %v", i+1, err)
		}
	}
	if _, _, err := fs.Get(ctx, "results/u1/a.png"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	for _, key := range []string{"", "..", "../etc/passwd", "a/../../b"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("sanitizeKey(%q) should fail", key)
		}
	}
	got, err := sanitizeKey(`\results\u1\..\u2\x.png`)
	if err != nil || got != "results/u2/x.png" {
		t.Fatalf("sanitizeKey = %q, %v", got, err)
	}
}

func TestBuildKeyIsUniqueAndOrdered(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seen := map[string]bool{}
	prev := ""
	for i := 0; i < 50; i++ {
		key := BuildKey("results", "user/../1", ".png", now)
		if !strings.HasPrefix(key, "results/user1/") || !strings.HasSuffix(key, ".png") {
			t.Fatalf("unexpected key %q", key)
		}
		if seen[key] {
			t.Fatalf("duplicate key %q", key)
		}
		if key <= prev {
			t.Fatalf("keys not monotonic: %q after %q", key, prev)
		}
		seen[key] = true
		prev = key
	}
}

func TestExtensionFor(t *testing.T) {
	if ext := ExtensionFor("image/jpeg", nil); ext != ".jpg" {
		t.Fatalf("jpeg ext = %q", ext)
	}
	if ext := ExtensionFor("", pngBytes); ext != ".png" {
		t.Fatalf("sniffed ext = %q", ext)
	}
	if ext := ExtensionFor("text/plain; charset=utf-8", nil); ext != ".txt" {
		t.Fatalf("text ext = %q", ext)
	}
}

func TestUploadEphemeralRecordsExpiry(t *testing.T) {
	fs := newFileStore(t)
	repo := newMemEphemeral()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewAssetStore(fs, repo, AssetOptions{Now: fixedClock(now), Logger: zerolog.Nop()})

	loc, err := store.Upload(context.Background(), UploadInput{OwnerID: "u1", RequestID: "r1", Data: pngBytes, Ephemeral: true})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(loc.Key, "tmp/u1/") || loc.ContentType != "image/png" {
		t.Fatalf("unexpected locator: %+v", loc)
	}
	if loc.ExpiresAt == nil || !loc.ExpiresAt.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("expiry = %v, want +24h", loc.ExpiresAt)
	}
	row, ok := repo.rows[loc.Key]
	if !ok || row.RequestID != "r1" || row.OwnerID != "u1" {
		t.Fatalf("ephemeral row missing: %+v", repo.rows)
	}
}

func TestUploadPermanentHasNoRow(t *testing.T) {
	repo := newMemEphemeral()
	store := NewAssetStore(newFileStore(t), repo, AssetOptions{Logger: zerolog.Nop()})
	loc, err := store.Upload(context.Background(), UploadInput{OwnerID: "u1", Data: []byte("hello caption"), ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if loc.ExpiresAt != nil || repo.count() != 0 || !strings.HasSuffix(loc.Key, ".txt") {
		t.Fatalf("unexpected permanent upload: %+v rows=%d", loc, repo.count())
	}
}

func TestUploadRemovesObjectWhenTrackingFails(t *testing.T) {
	fs := newFileStore(t)
	repo := newMemEphemeral()
	repo.createErr = errors.New("db down")
	store := NewAssetStore(fs, repo, AssetOptions{Logger: zerolog.Nop()})

	_, err := store.Upload(context.Background(), UploadInput{OwnerID: "u1", Data: pngBytes, Ephemeral: true})
	if !errors.Is(err, domain.ErrStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	var files []string
	_ = filepath.Walk(fs.BasePath(), func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if len(files) != 0 {
		t.Fatalf("untracked object left behind: %v", files)
	}
}

func TestPurgeIsIdempotent(t *testing.T) {
	repo := newMemEphemeral()
	store := NewAssetStore(newFileStore(t), repo, AssetOptions{Logger: zerolog.Nop()})
	loc, err := store.Upload(context.Background(), UploadInput{OwnerID: "u1", Data: pngBytes, Ephemeral: true})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Purge(context.Background(), loc.Key); err != nil {
			t.Fatalf("Purge #%d: %v", i+1, err)
		}
	}
	if repo.count() != 0 {
		t.Fatalf("row not removed")
	}
	if _, _, err := store.Get(context.Background(), loc.Key); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after purge, got %v", err)
	}
}

func TestSweeperPurgesOnlyExpired(t *testing.T) {
	fs := newFileStore(t)
	repo := newMemEphemeral()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	store := NewAssetStore(fs, repo, AssetOptions{Now: func() time.Time { return clock }, Logger: zerolog.Nop()})

	var expired, fresh []string
	for i := 0; i < 5; i++ {
		loc, err := store.Upload(context.Background(), UploadInput{OwnerID: "u1", Data: pngBytes, Ephemeral: true, TTL: time.Hour})
		if err != nil {
			t.Fatalf("Upload: %v", err)
		}
		expired = append(expired, loc.Key)
	}
	clock = base.Add(2 * time.Hour)
	loc, err := store.Upload(context.Background(), UploadInput{OwnerID: "u1", Data: pngBytes, Ephemeral: true, TTL: time.Hour})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	fresh = append(fresh, loc.Key)

	sweeper := NewSweeper(store, repo, 2, zerolog.Nop())
	res, err := sweeper.RunOnce(context.Background(), base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Purged != 5 || res.Failed != 0 {
		t.Fatalf("unexpected sweep result: %+v", res)
	}
	for _, key := range expired {
		if _, _, err := fs.Get(context.Background(), key); !errors.Is(err, ErrObjectNotFound) {
			t.Fatalf("expired object %s still present", key)
		}
	}
	if _, _, err := fs.Get(context.Background(), fresh[0]); err != nil {
		t.Fatalf("fresh object purged early: %v", err)
	}
	if repo.count() != 1 {
		t.Fatalf("rows left = %d, want 1", repo.count())
	}
}

func TestSweeperKeepsRowWhenDeleteFails(t *testing.T) {
	fs := newFileStore(t)
	repo := newMemEphemeral()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	flaky := &flakyStore{FileStore: fs, failDelete: map[string]bool{}}
	store := NewAssetStore(flaky, repo, AssetOptions{Now: fixedClock(base), Logger: zerolog.Nop()})
	loc, err := store.Upload(context.Background(), UploadInput{OwnerID: "u1", Data: pngBytes, Ephemeral: true, TTL: time.Minute})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	flaky.failDelete[loc.Key] = true

	res, err := NewSweeper(store, repo, 10, zerolog.Nop()).RunOnce(context.Background(), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Failed != 1 || res.Purged != 0 || repo.count() != 1 {
		t.Fatalf("unexpected result %+v rows=%d", res, repo.count())
	}
}

func TestSweeperStartRejectsBadSpec(t *testing.T) {
	s := NewSweeper(nil, newMemEphemeral(), 10, zerolog.Nop())
	if err := s.Start("not a cron"); err == nil {
		t.Fatalf("expected invalid spec error")
	}
	if err := s.Start("0 */5 * * * *"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start("0 */5 * * * *"); err == nil {
		t.Fatalf("second Start should fail")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestOpenFileDriver(t *testing.T) {
	dir := t.TempDir()
	cfg := &infra.Config{StorageDriver: "file", StoragePath: dir, StorageBaseURL: "http://localhost:8080/static"}
	store, static, err := Open(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != "file" {
		t.Fatalf("expected file driver, got %s", store.Driver())
	}
	if static == "" {
		t.Fatal("expected static dir for file driver")
	}
}

func TestSweeperTickRunsTasks(t *testing.T) {
	s := NewSweeper(nil, newMemEphemeral(), 10, zerolog.Nop())
	var ran []string
	s.AddTask("first", func(ctx context.Context, now time.Time) error {
		ran = append(ran, "first")
		return errors.New("boom")
	})
	s.AddTask("second", func(ctx context.Context, now time.Time) error {
		ran = append(ran, "second")
		return nil
	})
	s.tick()
	if len(ran) != 2 || ran[0] != "first" || ran[1] != "second" {
		t.Fatalf("tasks ran = %v", ran)
	}
}
