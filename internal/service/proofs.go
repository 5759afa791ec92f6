package service

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/lromero/splitbill/internal/backend"
	"github.com/lromero/splitbill/internal/models"
)

// ProofBucket is the blob bucket holding payment-proof images.
const ProofBucket = "payment-proofs"

// ProofService attaches and detaches payment-proof images on participant
// rows. The blob and the row reference are updated sequentially, not
// atomically, so each step compensates the previous one on failure.
type ProofService struct {
	records backend.RecordStore
	blobs   backend.BlobStore
	logger  *slog.Logger

	// now is swapped in tests to pin the generated object path.
	now func() time.Time
}

// NewProofService creates a proof service.
func NewProofService(records backend.RecordStore, blobs backend.BlobStore, logger *slog.Logger) *ProofService {
	return &ProofService{records: records, blobs: blobs, logger: logger, now: time.Now}
}

// Attach uploads a proof image and records its public URL on the participant
// row. Objects are keyed per participant with a millisecond timestamp, so
// repeated attaches never collide. If the row update fails the uploaded blob
// is removed again.
func (s *ProofService) Attach(ctx context.Context, participantID string, data []byte, ext, contentType string) (*models.AccountParticipant, error) {
	if len(data) == 0 {
		return nil, validationf("proof image is empty")
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "jpg"
	}

	objectPath := fmt.Sprintf("%s/%s_%d.%s", participantID, participantID, s.now().UnixMilli(), ext)
	if err := s.blobs.Upload(ctx, ProofBucket, objectPath, data, contentType); err != nil {
		return nil, fmt.Errorf("failed to upload proof: %w", err)
	}

	url := s.blobs.PublicURL(ProofBucket, objectPath)
	updated, err := s.records.Update(ctx, "account_participants",
		backend.Row{"payment_proof_url": url},
		backend.Eq("id", participantID),
	)
	if err != nil {
		if removeErr := s.blobs.Remove(ctx, ProofBucket, objectPath); removeErr != nil {
			s.logger.Warn("orphaned proof blob left behind",
				"bucket", ProofBucket, "path", objectPath, "error", removeErr)
		}
		return nil, fmt.Errorf("failed to record proof url: %w", err)
	}

	participant, err := backend.Decode[models.AccountParticipant](updated[0])
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment proof attached", "participant_id", participantID, "path", objectPath)
	return &participant, nil
}

// Detach removes the participant's proof image and clears the row reference.
// The object path is derived from the stored public URL.
func (s *ProofService) Detach(ctx context.Context, participantID string) (*models.AccountParticipant, error) {
	rows, err := s.records.Select(ctx, backend.SelectQuery{
		Table:   "account_participants",
		Filters: []backend.Filter{backend.Eq("id", participantID)},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("participant %s: %w", participantID, backend.ErrNotFound)
	}
	participant, err := backend.Decode[models.AccountParticipant](rows[0])
	if err != nil {
		return nil, err
	}
	if participant.PaymentProofURL == nil {
		return &participant, nil
	}

	objectPath := proofPathFromURL(*participant.PaymentProofURL)
	if objectPath != "" {
		if err := s.blobs.Remove(ctx, ProofBucket, objectPath); err != nil {
			return nil, fmt.Errorf("failed to remove proof blob: %w", err)
		}
	}

	updated, err := s.records.Update(ctx, "account_participants",
		backend.Row{"payment_proof_url": nil},
		backend.Eq("id", participantID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to clear proof url: %w", err)
	}
	out, err := backend.Decode[models.AccountParticipant](updated[0])
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment proof detached", "participant_id", participantID)
	return &out, nil
}

// proofPathFromURL recovers the "<participant>/<file>" object path from a
// public URL, the last two path segments. Returns "" when the URL does not
// carry two segments.
func proofPathFromURL(url string) string {
	trimmed := strings.TrimSuffix(url, "/")
	dir, file := path.Split(trimmed)
	parent := path.Base(strings.TrimSuffix(dir, "/"))
	if file == "" || parent == "" || parent == "." || parent == "/" {
		return ""
	}
	return parent + "/" + file
}
