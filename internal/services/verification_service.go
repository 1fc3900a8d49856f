package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"prediction-ledger/internal/ledger"
	"prediction-ledger/internal/models"
	"prediction-ledger/internal/repository"
)

const (
	defaultMaxParallelReads = 10
	defaultReadsPerSecond   = 10
)

// VerificationService proves that database records match what the ledger
// actually holds. It reads both stores and never writes the ledger.
type VerificationService struct {
	repo        *repository.Repository
	ledger      LedgerClient
	limiter     *rate.Limiter
	maxParallel int
}

// NewVerificationService caps outbound ledger reads with a shared rate
// limiter and a worker pool bound. Zero values pick the defaults.
func NewVerificationService(repo *repository.Repository, lc LedgerClient, readsPerSecond, maxParallel int) *VerificationService {
	if readsPerSecond <= 0 {
		readsPerSecond = defaultReadsPerSecond
	}
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallelReads
	}
	return &VerificationService{
		repo:        repo,
		ledger:      lc,
		limiter:     rate.NewLimiter(rate.Limit(readsPerSecond), readsPerSecond),
		maxParallel: maxParallel,
	}
}

// VerificationResult reports per-field discrepancies as data. Valid is true
// iff Errors is empty; only an unreachable ledger produces an error return.
type VerificationResult struct {
	Valid              bool               `json:"valid"`
	Errors             []string           `json:"errors"`
	CommitProof        *ledger.CommitMemo  `json:"commit_proof,omitempty"`
	ResolveProof       *ledger.ResolveMemo `json:"resolve_proof,omitempty"`
	CommitConfirmedAt  *time.Time         `json:"commit_confirmed_at,omitempty"`
	ResolveConfirmedAt *time.Time         `json:"resolve_confirmed_at,omitempty"`
}

// Verify fetches the referenced proof(s) and checks they exist and are
// internally coherent: the resolution must reference the commit, follow it
// in time, and not precede the market's resolution time when one is given.
func (vs *VerificationService) Verify(ctx context.Context, commitRef string, resolveRef *string, marketResolutionTime *time.Time) (*VerificationResult, error) {
	res := &VerificationResult{Errors: []string{}}

	if err := vs.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	commitProof, err := vs.ledger.FetchProof(ctx, commitRef)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch commit proof %s: %w", commitRef, err)
	}

	if !commitProof.Found {
		res.Errors = append(res.Errors, fmt.Sprintf("commit proof %s not found on ledger", commitRef))
	} else {
		memo, decodeErr := ledger.DecodeCommitMemo(commitProof.Payload)
		if decodeErr != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("commit memo unreadable: %v", decodeErr))
		} else {
			res.CommitProof = memo
			confirmedAt := commitProof.ConfirmedAt
			res.CommitConfirmedAt = &confirmedAt
		}
	}

	if resolveRef != nil {
		if err := vs.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resolveProof, err := vs.ledger.FetchProof(ctx, *resolveRef)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch resolution proof %s: %w", *resolveRef, err)
		}

		if !resolveProof.Found {
			res.Errors = append(res.Errors, fmt.Sprintf("resolution proof %s not found on ledger", *resolveRef))
		} else {
			memo, decodeErr := ledger.DecodeResolveMemo(resolveProof.Payload)
			if decodeErr != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("resolution memo unreadable: %v", decodeErr))
			} else {
				res.ResolveProof = memo
				confirmedAt := resolveProof.ConfirmedAt
				res.ResolveConfirmedAt = &confirmedAt

				if memo.CommitRef != commitRef {
					res.Errors = append(res.Errors, fmt.Sprintf(
						"resolution references commit %s, expected %s", memo.CommitRef, commitRef))
				}
				if commitProof.Found && resolveProof.ConfirmedAt.Before(commitProof.ConfirmedAt) {
					res.Errors = append(res.Errors, fmt.Sprintf(
						"resolution confirmed at %s, before commit at %s",
						resolveProof.ConfirmedAt.Format(time.RFC3339), commitProof.ConfirmedAt.Format(time.RFC3339)))
				}
				if marketResolutionTime != nil && resolveProof.ConfirmedAt.Before(*marketResolutionTime) {
					res.Errors = append(res.Errors, fmt.Sprintf(
						"resolution confirmed at %s, before market resolution time %s",
						resolveProof.ConfirmedAt.Format(time.RFC3339), marketResolutionTime.Format(time.RFC3339)))
				}
			}
		}
	}

	res.Valid = len(res.Errors) == 0
	return res, nil
}

// VerifyRecord layers the cross-store comparison on top of Verify: each
// database field is checked against the anchored commit payload and every
// mismatch is reported by name.
func (vs *VerificationService) VerifyRecord(ctx context.Context, rec *models.PredictionRecord, marketResolutionTime *time.Time) (*VerificationResult, error) {
	if rec.LedgerCommitRef == nil {
		return nil, ErrNotCommitted
	}

	res, err := vs.Verify(ctx, *rec.LedgerCommitRef, rec.LedgerResolveRef, marketResolutionTime)
	if err != nil {
		return nil, err
	}

	if res.CommitProof != nil {
		m := res.CommitProof
		if m.RecordID != "" && m.RecordID != rec.ID.String() {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"record id mismatch: ledger %q, database %q", m.RecordID, rec.ID))
		}
		if m.MarketID != rec.MarketID {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"market mismatch: ledger %q, database %q", m.MarketID, rec.MarketID))
		}
		if m.Direction != string(rec.Direction) {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"direction mismatch: ledger %q, database %q", m.Direction, rec.Direction))
		}
		ledgerProb, parseErr := decimal.NewFromString(m.Probability)
		if parseErr != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("probability unreadable on ledger: %q", m.Probability))
		} else if !ledgerProb.Equal(rec.Probability) {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"probability mismatch: ledger %s, database %s", ledgerProb, rec.Probability))
		}
	}

	if res.ResolveProof != nil && rec.Outcome != nil && res.ResolveProof.Outcome != *rec.Outcome {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"outcome mismatch: ledger %v, database %v", res.ResolveProof.Outcome, *rec.Outcome))
	}

	res.Valid = len(res.Errors) == 0
	return res, nil
}

// VerifyByID loads a record and runs the cross-store verification
func (vs *VerificationService) VerifyByID(ctx context.Context, id uuid.UUID, marketResolutionTime *time.Time) (*VerificationResult, error) {
	rec, err := vs.repo.GetPredictionByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return vs.VerifyRecord(ctx, rec, marketResolutionTime)
}

// BatchRecordError names the record whose verification failed and why
type BatchRecordError struct {
	RecordID uuid.UUID `json:"record_id"`
	Error    string    `json:"error"`
}

// BatchVerificationResult reduces a batch to counters plus per-record errors
type BatchVerificationResult struct {
	Total    int                `json:"total"`
	Verified int                `json:"verified"`
	Failed   int                `json:"failed"`
	Errors   []BatchRecordError `json:"errors"`
}

// VerifyAll verifies every committed record of an owner. Records are checked
// independently and in parallel; one record's fetch failure never aborts the
// others. Outbound reads are capped by the worker pool and the shared rate
// limiter.
func (vs *VerificationService) VerifyAll(ctx context.Context, ownerID uuid.UUID) (*BatchVerificationResult, error) {
	records, err := vs.repo.ListCommittedByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list committed predictions: %w", err)
	}

	type recordOutcome struct {
		id       uuid.UUID
		problems []string
		err      error
	}

	outcomes := make([]recordOutcome, len(records))
	sem := make(chan struct{}, vs.maxParallel)
	var wg sync.WaitGroup

	for i := range records {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			rec := &records[i]
			res, verr := vs.VerifyRecord(ctx, rec, nil)
			if verr != nil {
				outcomes[i] = recordOutcome{id: rec.ID, err: verr}
				return
			}
			outcomes[i] = recordOutcome{id: rec.ID, problems: res.Errors}
		}(i)
	}
	wg.Wait()

	out := &BatchVerificationResult{Total: len(records), Errors: []BatchRecordError{}}
	for _, oc := range outcomes {
		switch {
		case oc.err != nil:
			out.Failed++
			out.Errors = append(out.Errors, BatchRecordError{RecordID: oc.id, Error: oc.err.Error()})
		case len(oc.problems) > 0:
			out.Failed++
			out.Errors = append(out.Errors, BatchRecordError{RecordID: oc.id, Error: strings.Join(oc.problems, "; ")})
		default:
			out.Verified++
		}
	}
	return out, nil
}
