package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"prediction-ledger/internal/ledger"
	"prediction-ledger/internal/models"
	"prediction-ledger/internal/repository"
	"prediction-ledger/internal/retry"
	"prediction-ledger/internal/scoring"
)

var (
	probabilityFloor = decimal.Zero
	probabilityCeil  = decimal.NewFromInt(1)
)

// LedgerClient is the slice of the ledger API the pipelines need
type LedgerClient interface {
	SubmitMemo(ctx context.Context, payload []byte) (string, error)
	FetchProof(ctx context.Context, ref string) (*ledger.Proof, error)
}

// PredictionService runs the commit and resolution pipelines: the only two
// writers of ledger proofs in the system.
type PredictionService struct {
	repo     *repository.Repository
	ledger   LedgerClient
	retryCfg retry.Config
}

func NewPredictionService(repo *repository.Repository, lc LedgerClient, retryCfg retry.Config) *PredictionService {
	return &PredictionService{
		repo:     repo,
		ledger:   lc,
		retryCfg: retryCfg,
	}
}

// CommitInput is the caller-supplied content of a new forecast
type CommitInput struct {
	OwnerID     uuid.UUID
	Question    string
	MarketID    string
	Platform    string
	Probability decimal.Decimal
	Direction   models.Direction
}

// CommitResult pairs the updated record with its confirmed ledger reference
type CommitResult struct {
	Record    *models.PredictionRecord `json:"record"`
	LedgerRef string                   `json:"ledger_ref"`
}

// Commit validates a forecast, stores it, and anchors it on the ledger.
// On LedgerCommitError the stored row is still cleanly uncommitted; on
// DivergenceError the proof exists and only the database needs repair.
func (s *PredictionService) Commit(ctx context.Context, in CommitInput) (*CommitResult, error) {
	if in.Probability.LessThan(probabilityFloor) || in.Probability.GreaterThan(probabilityCeil) {
		return nil, &InvalidInputError{Reason: fmt.Sprintf("probability %s outside [0,1]", in.Probability)}
	}
	if !in.Direction.Valid() {
		return nil, &InvalidInputError{Reason: fmt.Sprintf("unknown direction %q", in.Direction)}
	}
	if in.MarketID == "" {
		return nil, &InvalidInputError{Reason: "market id is required"}
	}

	rec := &models.PredictionRecord{
		OwnerID:     in.OwnerID,
		Question:    in.Question,
		MarketID:    in.MarketID,
		Platform:    in.Platform,
		Probability: in.Probability,
		Direction:   in.Direction,
	}
	if err := s.repo.CreatePrediction(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create prediction: %w", err)
	}

	return s.CommitRecord(ctx, rec.ID)
}

// CommitRecord anchors an existing uncommitted record on the ledger. An
// already-committed record is rejected before any ledger traffic, so one
// logical prediction can never produce a second proof through this path.
func (s *PredictionService) CommitRecord(ctx context.Context, id uuid.UUID) (*CommitResult, error) {
	rec, err := s.repo.GetPredictionByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load prediction: %w", err)
	}
	if rec.LedgerCommitRef != nil {
		return nil, ErrAlreadyCommitted
	}

	owner, err := s.repo.GetOwnerByID(ctx, rec.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load owner: %w", err)
	}

	memo := ledger.NewCommitMemo(
		rec.ID.String(),
		owner.WalletAddress,
		rec.MarketID,
		rec.Probability.String(),
		string(rec.Direction),
		time.Now().Unix(),
	)
	payload, err := memo.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode commit memo: %w", err)
	}

	var ref string
	err = retry.DoClassified(ctx, s.retryCfg, ledger.IsRetryable, func() error {
		sig, submitErr := s.ledger.SubmitMemo(ctx, payload)
		if submitErr != nil {
			return submitErr
		}
		ref = sig
		return nil
	})
	if err != nil {
		log.Printf("[Commit] ledger submit failed for %s: %v", rec.ID, err)
		return nil, &LedgerCommitError{Err: err}
	}

	// the proof exists now; a database failure from here on is divergence,
	// never a reason to submit again
	if err := s.repo.MarkCommitted(ctx, rec.ID, ref); err != nil {
		log.Printf("[Commit] database update failed for %s after ledger write %s: %v", rec.ID, ref, err)
		return nil, &DivergenceError{RecordID: rec.ID, LedgerRef: ref, Err: err}
	}

	rec, err = s.repo.GetPredictionByID(ctx, rec.ID)
	if err != nil {
		return nil, &DivergenceError{RecordID: id, LedgerRef: ref, Err: err}
	}

	log.Printf("[Commit] prediction %s anchored: %s", rec.ID, ref)
	return &CommitResult{Record: rec, LedgerRef: ref}, nil
}

// ResolveResult pairs the resolved record with its proof and score
type ResolveResult struct {
	Record    *models.PredictionRecord `json:"record"`
	LedgerRef string                   `json:"ledger_ref"`
	Score     decimal.Decimal          `json:"score"`
}

// Resolve records the realized outcome for a committed prediction: scores
// it, anchors the resolution on the ledger, then persists outcome, score,
// reference and timestamp as one update.
func (s *PredictionService) Resolve(ctx context.Context, id uuid.UUID, outcome bool) (*ResolveResult, error) {
	rec, err := s.repo.GetPredictionByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load prediction: %w", err)
	}
	if rec.LedgerCommitRef == nil {
		return nil, ErrNotCommitted
	}
	if rec.LedgerResolveRef != nil {
		return nil, ErrAlreadyResolved
	}

	score := scoring.Score(rec.Probability, rec.Direction, outcome)

	memo := ledger.NewResolveMemo(
		*rec.LedgerCommitRef,
		rec.Probability.String(),
		string(rec.Direction),
		outcome,
		time.Now().Unix(),
	)
	payload, err := memo.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode resolve memo: %w", err)
	}

	var ref string
	err = retry.DoClassified(ctx, s.retryCfg, ledger.IsRetryable, func() error {
		sig, submitErr := s.ledger.SubmitMemo(ctx, payload)
		if submitErr != nil {
			return submitErr
		}
		ref = sig
		return nil
	})
	if err != nil {
		log.Printf("[Resolve] ledger submit failed for %s: %v", rec.ID, err)
		return nil, &LedgerResolveError{Err: err}
	}

	now := time.Now().UTC()
	if err := s.repo.MarkResolved(ctx, rec.ID, outcome, score, ref, now); err != nil {
		log.Printf("[Resolve] database update failed for %s after ledger write %s: %v", rec.ID, ref, err)
		return nil, &DivergenceError{RecordID: rec.ID, LedgerRef: ref, Err: err}
	}

	rec, err = s.repo.GetPredictionByID(ctx, rec.ID)
	if err != nil {
		return nil, &DivergenceError{RecordID: id, LedgerRef: ref, Err: err}
	}

	log.Printf("[Resolve] prediction %s resolved: outcome=%v, score=%s, ref=%s", rec.ID, outcome, score, ref)
	return &ResolveResult{Record: rec, LedgerRef: ref, Score: score}, nil
}

// RepairCommit applies a database-only fix for a commit whose ledger write
// landed but whose database update did not. The proof is fetched and checked
// against the record before anything is written; the ledger is never written.
func (s *PredictionService) RepairCommit(ctx context.Context, id uuid.UUID, ref string) (*models.PredictionRecord, error) {
	proof, err := s.ledger.FetchProof(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ledger proof: %w", err)
	}
	if !proof.Found {
		return nil, fmt.Errorf("ledger proof %s not found or unconfirmed", ref)
	}

	memo, err := ledger.DecodeCommitMemo(proof.Payload)
	if err != nil {
		return nil, fmt.Errorf("proof %s is not a commit memo: %w", ref, err)
	}
	if memo.RecordID != id.String() {
		return nil, fmt.Errorf("proof %s anchors record %s, not %s", ref, memo.RecordID, id)
	}

	if err := s.repo.MarkCommitted(ctx, id, ref); err != nil {
		if errors.Is(err, repository.ErrAlreadySet) {
			return nil, ErrAlreadyCommitted
		}
		return nil, fmt.Errorf("failed to repair commit: %w", err)
	}

	log.Printf("[Repair] commit reference %s restored on record %s", ref, id)
	return s.repo.GetPredictionByID(ctx, id)
}

// RepairResolution is the resolution-side counterpart of RepairCommit. The
// outcome is taken from the anchored memo and the score recomputed from the
// record, so the repaired row agrees with the chain.
func (s *PredictionService) RepairResolution(ctx context.Context, id uuid.UUID, ref string) (*models.PredictionRecord, error) {
	rec, err := s.repo.GetPredictionByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load prediction: %w", err)
	}
	if rec.LedgerCommitRef == nil {
		return nil, ErrNotCommitted
	}

	proof, err := s.ledger.FetchProof(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ledger proof: %w", err)
	}
	if !proof.Found {
		return nil, fmt.Errorf("ledger proof %s not found or unconfirmed", ref)
	}

	memo, err := ledger.DecodeResolveMemo(proof.Payload)
	if err != nil {
		return nil, fmt.Errorf("proof %s is not a resolve memo: %w", ref, err)
	}
	if memo.CommitRef != *rec.LedgerCommitRef {
		return nil, fmt.Errorf("proof %s references commit %s, record holds %s", ref, memo.CommitRef, *rec.LedgerCommitRef)
	}

	score := scoring.Score(rec.Probability, rec.Direction, memo.Outcome)
	resolvedAt := proof.ConfirmedAt
	if resolvedAt.IsZero() {
		resolvedAt = time.Now().UTC()
	}

	if err := s.repo.MarkResolved(ctx, id, memo.Outcome, score, ref, resolvedAt); err != nil {
		if errors.Is(err, repository.ErrAlreadySet) {
			return nil, ErrAlreadyResolved
		}
		return nil, fmt.Errorf("failed to repair resolution: %w", err)
	}

	log.Printf("[Repair] resolution reference %s restored on record %s", ref, id)
	return s.repo.GetPredictionByID(ctx, id)
}

// Get retrieves a single prediction record
func (s *PredictionService) Get(ctx context.Context, id uuid.UUID) (*models.PredictionRecord, error) {
	rec, err := s.repo.GetPredictionByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ListByOwner retrieves all of an owner's prediction records
func (s *PredictionService) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.PredictionRecord, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// Stats reduces an owner's records to accuracy and verification-rate
// summaries. Reads only the database.
func (s *PredictionService) Stats(ctx context.Context, ownerID uuid.UUID) (*scoring.Summary, error) {
	recs, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	summary := scoring.Aggregate(recs)
	return &summary, nil
}
