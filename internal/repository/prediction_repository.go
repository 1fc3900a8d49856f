package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"prediction-ledger/internal/models"
)

// ErrAlreadySet signals that an append-only field (a ledger reference) is
// already populated; the guarded update touched no rows.
var ErrAlreadySet = errors.New("append-only field already set")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreatePrediction inserts a new uncommitted prediction record
func (r *Repository) CreatePrediction(ctx context.Context, rec *models.PredictionRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// GetPredictionByID retrieves a prediction record by ID
func (r *Repository) GetPredictionByID(ctx context.Context, id uuid.UUID) (*models.PredictionRecord, error) {
	var rec models.PredictionRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByOwner retrieves all prediction records for an owner, newest first
func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.PredictionRecord, error) {
	var recs []models.PredictionRecord
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// ListCommittedByOwner retrieves an owner's records that hold a commit ref
func (r *Repository) ListCommittedByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.PredictionRecord, error) {
	var recs []models.PredictionRecord
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND ledger_commit_ref IS NOT NULL", ownerID).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// ListCommitted retrieves committed records across all owners, oldest first,
// capped at limit. Used by the reconciliation sweep.
func (r *Repository) ListCommitted(ctx context.Context, limit int) ([]models.PredictionRecord, error) {
	var recs []models.PredictionRecord
	query := r.db.WithContext(ctx).
		Where("ledger_commit_ref IS NOT NULL").
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// MarkCommitted sets the commit reference exactly once. The guard on
// ledger_commit_ref prevents two concurrent commit attempts for the same
// record from both landing: the loser sees ErrAlreadySet.
func (r *Repository) MarkCommitted(ctx context.Context, id uuid.UUID, ref string) error {
	res := r.db.WithContext(ctx).
		Model(&models.PredictionRecord{}).
		Where("id = ? AND ledger_commit_ref IS NULL", id).
		Updates(map[string]interface{}{
			"ledger_commit_ref": ref,
			"committed":         true,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadySet
	}
	return nil
}

// MarkResolved persists outcome, score, resolution reference and timestamp
// as one update. Guarded so a record cannot be resolved before it is
// committed, or resolved twice.
func (r *Repository) MarkResolved(ctx context.Context, id uuid.UUID, outcome bool, score decimal.Decimal, ref string, resolvedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.PredictionRecord{}).
		Where("id = ? AND ledger_commit_ref IS NOT NULL AND ledger_resolve_ref IS NULL", id).
		Updates(map[string]interface{}{
			"outcome":            outcome,
			"score":              score,
			"ledger_resolve_ref": ref,
			"resolved_at":        resolvedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadySet
	}
	return nil
}

// FlagDivergent marks or clears the divergence flag on a record
func (r *Repository) FlagDivergent(ctx context.Context, id uuid.UUID, divergent bool) error {
	return r.db.WithContext(ctx).
		Model(&models.PredictionRecord{}).
		Where("id = ?", id).
		Update("divergent", divergent).Error
}

// GetOwnerByID retrieves an owner by ID
func (r *Repository) GetOwnerByID(ctx context.Context, id uuid.UUID) (*models.Owner, error) {
	var owner models.Owner
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&owner).Error
	if err != nil {
		return nil, err
	}
	return &owner, nil
}

// GetOrCreateOwnerByWallet returns the owner for a wallet address,
// provisioning one on first sight
func (r *Repository) GetOrCreateOwnerByWallet(ctx context.Context, walletAddress string) (*models.Owner, error) {
	var owner models.Owner
	err := r.db.WithContext(ctx).
		Where(models.Owner{WalletAddress: walletAddress}).
		FirstOrCreate(&owner).Error
	if err != nil {
		return nil, err
	}
	return &owner, nil
}
