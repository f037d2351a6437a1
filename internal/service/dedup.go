package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/logging"
	"github.com/cloo-solutions/briefly/internal/telemetry"
	"go.uber.org/zap"
)

// BackfillBatchSize bounds how many records a backfill reads per page.
const BackfillBatchSize = 100

// Checksum returns the lowercase hex SHA-256 digest of buf.
func Checksum(buf []byte) string {
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// BufferFetcher loads the raw bytes of a stored file.
type BufferFetcher func(ctx context.Context, f *domain.FileRecord) ([]byte, error)

// BackfillResult counts the outcome of a checksum backfill.
type BackfillResult struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Errored   int `json:"errored"`
}

// DedupService finds owner-scoped content duplicates.
type DedupService struct {
	files    FileRepository
	failOpen bool
}

func NewDedupService(files FileRepository, failOpen bool) *DedupService {
	return &DedupService{files: files, failOpen: failOpen}
}

// FindDuplicate returns the canonical completed record of ownerID carrying
// checksum, ignoring excludeID. It returns nil when there is none.
//
// When the lookup itself fails and the service is fail-open, the failure is
// logged and reported to Sentry, and the file is treated as unique.
func (s *DedupService) FindDuplicate(ctx context.Context, ownerID, checksum, excludeID string) (*domain.FileRecord, error) {
	if ownerID == "" {
		return nil, domain.ErrMissingOwner
	}

	existing, err := s.files.FindCompletedByChecksum(ctx, ownerID, checksum, excludeID)
	if err == nil {
		return existing, nil
	}

	lookupErr := domain.NewChecksumLookupError(fmt.Errorf("failed to look up checksum: %w", err))
	if !s.failOpen {
		return nil, lookupErr
	}

	logging.FromContext(ctx).Warn("dedup lookup failed, treating file as unique",
		zap.String("owner_id", ownerID),
		zap.String("file_id", excludeID),
		zap.String("checksum", checksum),
		zap.Error(err),
	)
	telemetry.CaptureMessage(ctx, fmt.Sprintf("dedup fail-open for owner %s: %v", ownerID, err))
	return nil, nil
}

// BackfillChecksums computes checksums for ownerID's records that have none,
// reading BackfillBatchSize records at a time. Per-file failures are counted
// and skipped.
func (s *DedupService) BackfillChecksums(ctx context.Context, ownerID string, fetch BufferFetcher) (*BackfillResult, error) {
	if ownerID == "" {
		return nil, domain.ErrMissingOwner
	}

	log := logging.FromContext(ctx).With(zap.String("owner_id", ownerID))
	result := &BackfillResult{}
	afterID := ""

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch, err := s.files.ListMissingChecksum(ctx, ownerID, afterID, BackfillBatchSize)
		if err != nil {
			return result, fmt.Errorf("failed to list files missing checksum: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, f := range batch {
			result.Processed++
			afterID = f.ID

			buf, err := fetch(ctx, f)
			if err != nil {
				result.Errored++
				log.Warn("backfill: fetch failed", zap.String("file_id", f.ID), zap.Error(err))
				continue
			}

			if err := s.files.UpdateChecksum(ctx, ownerID, f.ID, Checksum(buf)); err != nil {
				result.Errored++
				log.Warn("backfill: update failed", zap.String("file_id", f.ID), zap.Error(err))
				continue
			}
			result.Updated++
		}

		if len(batch) < BackfillBatchSize {
			break
		}
	}

	log.Info("checksum backfill finished",
		zap.Int("processed", result.Processed),
		zap.Int("updated", result.Updated),
		zap.Int("errored", result.Errored),
	)
	return result, nil
}
