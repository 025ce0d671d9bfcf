package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"gensvc/internal/domain"
	"gensvc/internal/metrics"
)

// DefaultEphemeralTTL applies when an ephemeral upload has no explicit TTL.
const DefaultEphemeralTTL = 24 * time.Hour

// UploadInput describes one object to persist.
type UploadInput struct {
	OwnerID     string
	RequestID   string
	Prefix      string
	Data        []byte
	ContentType string
	Ephemeral   bool
	TTL         time.Duration
}

// Locator identifies a stored object.
type Locator struct {
	Key         string
	URL         string
	ContentType string
	Size        int
	ExpiresAt   *time.Time
}

// AssetStore uploads objects and tracks the ephemeral ones.
type AssetStore struct {
	objects    ObjectStore
	ephemeral  domain.EphemeralAssetRepository
	defaultTTL time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// AssetOptions configures an AssetStore.
type AssetOptions struct {
	DefaultTTL time.Duration
	Now        func() time.Time
	Logger     zerolog.Logger
}

func NewAssetStore(objects ObjectStore, ephemeral domain.EphemeralAssetRepository, opts AssetOptions) *AssetStore {
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultEphemeralTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &AssetStore{
		objects:    objects,
		ephemeral:  ephemeral,
		defaultTTL: ttl,
		now:        now,
		log:        opts.Logger.With().Str("component", "asset-store").Logger(),
	}
}

// Upload writes the object and, for ephemeral uploads, records its absolute
// expiry. If the expiry row cannot be written the object is removed again so
// no untracked ephemeral object survives.
func (s *AssetStore) Upload(ctx context.Context, in UploadInput) (Locator, error) {
	if len(in.Data) == 0 {
		return Locator{}, &domain.StorageError{Op: "upload", Err: errors.New("empty object")}
	}
	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" {
		contentType = mimetype.Detect(in.Data).String()
	}
	now := s.now().UTC()
	prefix := in.Prefix
	if prefix == "" {
		prefix = "results"
		if in.Ephemeral {
			prefix = "tmp"
		}
	}
	key := BuildKey(prefix, in.OwnerID, ExtensionFor(contentType, in.Data), now)

	start := time.Now()
	err := s.objects.Put(ctx, key, in.Data, contentType)
	metrics.RecordStorage(s.objects.Driver(), "put", metrics.Status(err), time.Since(start).Seconds())
	if err != nil {
		return Locator{}, &domain.StorageError{Op: "put", Key: key, Err: err}
	}

	loc := Locator{Key: key, URL: s.objects.URL(key), ContentType: contentType, Size: len(in.Data)}
	if !in.Ephemeral {
		return loc, nil
	}

	ttl := in.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	expires := now.Add(ttl)
	asset := &domain.EphemeralAsset{
		StorageKey: key,
		OwnerID:    in.OwnerID,
		RequestID:  in.RequestID,
		ExpiresAt:  expires,
	}
	if err := s.ephemeral.Create(ctx, asset); err != nil {
		if delErr := s.objects.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.log.Error().Err(delErr).Str("key", key).Msg("remove untracked ephemeral object")
		}
		return Locator{}, &domain.StorageError{Op: "track", Key: key, Err: err}
	}
	loc.ExpiresAt = &expires
	return loc, nil
}

// Get reads an object back.
func (s *AssetStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	data, ct, err := s.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, "", fmt.Errorf("%w: %s", domain.ErrNotFound, key)
		}
		return nil, "", &domain.StorageError{Op: "get", Key: key, Err: err}
	}
	return data, ct, nil
}

// Purge deletes the object and its ephemeral row. Purging an object that is
// already gone succeeds.
func (s *AssetStore) Purge(ctx context.Context, key string) error {
	start := time.Now()
	err := s.objects.Delete(ctx, key)
	metrics.RecordStorage(s.objects.Driver(), "delete", metrics.Status(err), time.Since(start).Seconds())
	if err != nil {
		return &domain.StorageError{Op: "delete", Key: key, Err: err}
	}
	if err := s.ephemeral.DeleteByKey(ctx, key); err != nil {
		return &domain.StorageError{Op: "untrack", Key: key, Err: err}
	}
	return nil
}
