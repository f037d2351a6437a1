package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/logging"
	"github.com/cloo-solutions/briefly/internal/telemetry"
	"go.uber.org/zap"
)

const (
	// UnchangedPreviewLimit caps the unchanged entries echoed in a check result.
	UnchangedPreviewLimit = 20

	DefaultSyncPageSize      = 100
	DefaultSyncMaxPages      = 20
	DefaultSyncFetchTimeout  = 20 * time.Second
	DefaultSyncFetchAttempts = 3
)

// ClassifyDelta compares a provider listing with the local records of the
// same (owner, provider). A remote entry is updated when its revision, else
// its size, else its modified time differs from the local record. Local
// records absent from the listing are reported as deleted.
func ClassifyDelta(local []*domain.FileRecord, remote []domain.RemoteFile) *domain.DeltaResult {
	byExternalID := make(map[string]*domain.FileRecord, len(local))
	for _, f := range local {
		if f.ExternalID != "" {
			byExternalID[f.ExternalID] = f
		}
	}

	result := &domain.DeltaResult{}
	seen := make(map[string]bool, len(remote))
	for _, r := range remote {
		if seen[r.ExternalID] {
			continue
		}
		seen[r.ExternalID] = true

		f, ok := byExternalID[r.ExternalID]
		if !ok {
			result.New = append(result.New, r)
			continue
		}
		delete(byExternalID, r.ExternalID)

		if remoteChanged(f, r) {
			result.Updated = append(result.Updated, r)
		} else {
			result.Unchanged = append(result.Unchanged, r)
		}
	}

	for _, f := range local {
		if _, left := byExternalID[f.ExternalID]; left {
			result.Deleted = append(result.Deleted, f)
		}
	}
	return result
}

func remoteChanged(f *domain.FileRecord, r domain.RemoteFile) bool {
	if r.Revision != f.Revision {
		return true
	}
	if r.Size != f.Size {
		return true
	}
	return !r.ModifiedTime.Truncate(time.Microsecond).Equal(f.LastModified.Truncate(time.Microsecond))
}

// Ingestor queues file references for processing.
type Ingestor interface {
	Accept(ctx context.Context, ref domain.FileReference, opts AcceptOptions) (*AcceptResult, error)
}

// SyncConfig bounds one sync run.
type SyncConfig struct {
	PageSize      int
	MaxPages      int
	FetchTimeout  time.Duration
	FetchAttempts uint
	RetryDelay    time.Duration
}

// SyncOptions tune one check.
type SyncOptions struct {
	// FullResync discards the stored cursor and lists from the beginning.
	FullResync bool
	// Enqueue hands new and updated files to the ingestor.
	Enqueue bool
}

type SyncSummary struct {
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
	Total     int `json:"total"`
}

// DeletedFile is a local record no longer present remotely.
type DeletedFile struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId"`
	Filename   string `json:"name"`
}

type SyncFiles struct {
	New       []domain.RemoteFile `json:"new"`
	Updated   []domain.RemoteFile `json:"updated"`
	Unchanged []domain.RemoteFile `json:"unchanged"`
	Deleted   []DeletedFile       `json:"deleted"`
}

// CheckResult is the outcome of one sync check.
type CheckResult struct {
	Provider   domain.Provider    `json:"provider"`
	Summary    SyncSummary        `json:"summary"`
	Files      SyncFiles          `json:"files"`
	NextCursor *string            `json:"nextCursor"`
	Errors     []domain.PageError `json:"errors,omitempty"`
	Complete   bool               `json:"complete"`
	Enqueued   int                `json:"enqueued"`
}

// SyncService reconciles provider listings with the local registry.
type SyncService struct {
	conns   SyncConnectionRepository
	files   FileRepository
	tokens  TokenSource
	listers map[domain.Provider]FileLister
	ingest  Ingestor
	cfg     SyncConfig
}

// NewSyncService creates a SyncService. ingest may be nil, in which case
// checks only report.
func NewSyncService(
	conns SyncConnectionRepository,
	files FileRepository,
	tokens TokenSource,
	listers map[domain.Provider]FileLister,
	ingest Ingestor,
	cfg SyncConfig,
) *SyncService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultSyncPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultSyncMaxPages
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultSyncFetchTimeout
	}
	if cfg.FetchAttempts == 0 {
		cfg.FetchAttempts = DefaultSyncFetchAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &SyncService{
		conns:   conns,
		files:   files,
		tokens:  tokens,
		listers: listers,
		ingest:  ingest,
		cfg:     cfg,
	}
}

// Check lists up to MaxPages pages from the stored cursor, classifies them
// against the local registry and persists the new cursor. A page that cannot
// be fetched ends the run; the cursor stays at the last page that succeeded.
// Deletions are reported when the listing ends, provided every page since an
// empty cursor was read, whether in this run or in earlier ones.
func (s *SyncService) Check(ctx context.Context, ownerID string, provider domain.Provider, opts SyncOptions) (*CheckResult, error) {
	if ownerID == "" {
		return nil, domain.ErrMissingOwner
	}
	lister, ok := s.listers[provider]
	if !ok {
		return nil, domain.ErrInvalidProvider
	}

	ctx = logging.With(ctx, zap.String("owner_id", ownerID), zap.String("provider", string(provider)))
	ctx, span := telemetry.StartSpan(ctx, "SyncService.Check", telemetry.SpanAttributes{
		OwnerID:   ownerID,
		Provider:  string(provider),
		Operation: "sync_check",
	})
	defer span.End()
	log := logging.FromContext(ctx)

	now := time.Now().UTC()
	conn, err := s.conns.Get(ctx, ownerID, provider)
	if errors.Is(err, domain.ErrSyncConnectionNotFound) {
		conn = &domain.SyncConnection{OwnerID: ownerID, Provider: provider, CreatedAt: now}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load sync connection: %w", err)
	}

	token, err := s.tokens.AccessToken(ctx, ownerID, provider)
	if err != nil {
		return nil, err
	}

	cursor := conn.Cursor
	if opts.FullResync {
		cursor = ""
	}
	if cursor == "" {
		conn.PassStartedAt = &now
		conn.PassSeen = nil
	}

	var (
		remote   []domain.RemoteFile
		errs     []domain.PageError
		complete bool
	)
	for page := 1; page <= s.cfg.MaxPages; page++ {
		listing, err := s.fetchPage(ctx, lister, token, cursor)
		if err != nil {
			span.MarkFailed()
			log.Warn("sync page failed", zap.Int("page", page), zap.Error(err))
			if domain.KindOf(err) == "" {
				err = domain.NewSyncProviderError(err)
			}
			errs = append(errs, domain.PageError{Page: page, Error: err.Error()})
			break
		}
		remote = append(remote, listing.Files...)
		cursor = listing.NextCursor
		if cursor == "" {
			complete = true
			break
		}
	}

	local, err := s.files.ListBySource(ctx, ownerID, provider.Source())
	if err != nil {
		return nil, fmt.Errorf("failed to list local files: %w", err)
	}

	conn.PassSeen = appendListed(conn.PassSeen, remote)
	delta := ClassifyDelta(local, remote)
	delta.Deleted = nil
	if complete {
		if conn.PassStartedAt != nil {
			delta.Deleted = unlisted(local, conn.PassSeen)
		}
		conn.PassStartedAt = nil
		conn.PassSeen = nil
	}

	conn.Cursor = cursor
	conn.LastCheckedAt = &now
	conn.UpdatedAt = now
	if err := s.conns.Upsert(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to save sync connection: %w", err)
	}

	result := buildCheckResult(provider, delta, cursor, errs, complete)
	if opts.Enqueue && s.ingest != nil {
		result.Enqueued = s.enqueue(ctx, ownerID, provider, delta)
	}

	log.Info("sync check finished",
		zap.Int("new", result.Summary.New),
		zap.Int("updated", result.Summary.Updated),
		zap.Int("unchanged", result.Summary.Unchanged),
		zap.Int("deleted", result.Summary.Deleted),
		zap.Bool("complete", complete),
		zap.Int("page_errors", len(errs)),
	)
	return result, nil
}

// appendListed adds the external ids of remote to seen, skipping repeats.
func appendListed(seen []string, remote []domain.RemoteFile) []string {
	known := make(map[string]bool, len(seen))
	for _, id := range seen {
		known[id] = true
	}
	for _, r := range remote {
		if !known[r.ExternalID] {
			known[r.ExternalID] = true
			seen = append(seen, r.ExternalID)
		}
	}
	return seen
}

// unlisted returns the local records whose external id is not in listed.
func unlisted(local []*domain.FileRecord, listed []string) []*domain.FileRecord {
	seen := make(map[string]bool, len(listed))
	for _, id := range listed {
		seen[id] = true
	}
	var out []*domain.FileRecord
	for _, f := range local {
		if f.ExternalID != "" && !seen[f.ExternalID] {
			out = append(out, f)
		}
	}
	return out
}

func (s *SyncService) fetchPage(ctx context.Context, lister FileLister, token, cursor string) (*domain.ListingPage, error) {
	log := logging.FromContext(ctx)
	return retry.DoWithData(
		func() (*domain.ListingPage, error) {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
			defer cancel()
			return lister.ListPage(callCtx, token, cursor, s.cfg.PageSize)
		},
		retry.Context(ctx),
		retry.Attempts(s.cfg.FetchAttempts),
		retry.Delay(s.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(domain.IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			log.Debug("retrying listing page", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}

func (s *SyncService) enqueue(ctx context.Context, ownerID string, provider domain.Provider, delta *domain.DeltaResult) int {
	log := logging.FromContext(ctx)
	enqueued := 0
	for _, group := range [][]domain.RemoteFile{delta.New, delta.Updated} {
		for _, r := range group {
			ref := domain.FileReference{
				OwnerID:      ownerID,
				Source:       provider.Source(),
				ExternalID:   r.ExternalID,
				Filename:     r.Name,
				MimeType:     r.MimeType,
				Size:         r.Size,
				Revision:     r.Revision,
				DownloadURL:  r.DownloadURL,
				LastModified: r.ModifiedTime,
			}
			if _, err := s.ingest.Accept(ctx, ref, AcceptOptions{}); err != nil {
				log.Warn("failed to enqueue synced file", zap.String("external_id", r.ExternalID), zap.Error(err))
				continue
			}
			enqueued++
		}
	}
	return enqueued
}

func buildCheckResult(provider domain.Provider, delta *domain.DeltaResult, cursor string, errs []domain.PageError, complete bool) *CheckResult {
	preview := delta.Unchanged
	if len(preview) > UnchangedPreviewLimit {
		preview = preview[:UnchangedPreviewLimit]
	}

	deleted := make([]DeletedFile, len(delta.Deleted))
	for i, f := range delta.Deleted {
		deleted[i] = DeletedFile{ID: f.ID, ExternalID: f.ExternalID, Filename: f.Filename}
	}

	result := &CheckResult{
		Provider: provider,
		Summary: SyncSummary{
			New:       len(delta.New),
			Updated:   len(delta.Updated),
			Unchanged: len(delta.Unchanged),
			Deleted:   len(delta.Deleted),
			Total:     delta.Total(),
		},
		Files: SyncFiles{
			New:       nonNil(delta.New),
			Updated:   nonNil(delta.Updated),
			Unchanged: nonNil(preview),
			Deleted:   deleted,
		},
		Errors:   errs,
		Complete: complete,
	}
	if cursor != "" {
		result.NextCursor = &cursor
	}
	return result
}

func nonNil(files []domain.RemoteFile) []domain.RemoteFile {
	if files == nil {
		return []domain.RemoteFile{}
	}
	return files
}
