package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"prediction-ledger/internal/auth"
	"prediction-ledger/internal/models"
	"prediction-ledger/internal/services"
)

type PredictionHandler struct {
	predictions  *services.PredictionService
	verification *services.VerificationService
}

func NewPredictionHandler(ps *services.PredictionService, vs *services.VerificationService) *PredictionHandler {
	return &PredictionHandler{predictions: ps, verification: vs}
}

// respondServiceError maps service errors onto HTTP statuses. Ledger write
// failures are 502 and safe to retry; divergence is 500 and carries the
// confirmed ledger ref so the caller can trigger a repair.
func respondServiceError(c *gin.Context, err error) {
	var invalid *services.InvalidInputError
	var commitErr *services.LedgerCommitError
	var resolveErr *services.LedgerResolveError
	var div *services.DivergenceError

	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Reason})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Prediction not found"})
	case errors.Is(err, services.ErrNotCommitted):
		c.JSON(http.StatusConflict, gin.H{"error": "Prediction is not committed to the ledger"})
	case errors.Is(err, services.ErrAlreadyCommitted):
		c.JSON(http.StatusConflict, gin.H{"error": "Prediction is already committed"})
	case errors.Is(err, services.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "Prediction is already resolved"})
	case errors.As(err, &commitErr), errors.As(err, &resolveErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":         "Ledger write failed",
			"safe_to_retry": true,
		})
	case errors.As(err, &div):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":         "Database diverged from ledger",
			"record_id":     div.RecordID,
			"ledger_ref":    div.LedgerRef,
			"repair_needed": true,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// CreatePrediction records a forecast and anchors it on the ledger
// POST /api/predictions
func (h *PredictionHandler) CreatePrediction(c *gin.Context) {
	ownerID, exists := auth.GetOwnerID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req struct {
		Question    string `json:"question"`
		MarketID    string `json:"market_id" binding:"required"`
		Platform    string `json:"platform"`
		Probability string `json:"probability" binding:"required"`
		Direction   string `json:"direction" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	probability, err := decimal.NewFromString(req.Probability)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid probability"})
		return
	}

	res, err := h.predictions.Commit(c.Request.Context(), services.CommitInput{
		OwnerID:     ownerID,
		Question:    req.Question,
		MarketID:    req.MarketID,
		Platform:    req.Platform,
		Probability: probability,
		Direction:   models.Direction(req.Direction),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    res,
	})
}

// CommitPrediction retries the ledger anchor for an uncommitted record
// POST /api/predictions/:id/commit
func (h *PredictionHandler) CommitPrediction(c *gin.Context) {
	id, err := h.recordID(c)
	if err != nil {
		return
	}

	res, err := h.predictions.CommitRecord(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    res,
	})
}

// ResolvePrediction records the realized outcome and anchors the resolution
// POST /api/predictions/:id/resolve
func (h *PredictionHandler) ResolvePrediction(c *gin.Context) {
	id, err := h.recordID(c)
	if err != nil {
		return
	}

	var req struct {
		Outcome *bool `json:"outcome" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.predictions.Resolve(c.Request.Context(), id, *req.Outcome)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    res,
	})
}

// GetPredictions returns the authenticated owner's predictions
// GET /api/predictions
func (h *PredictionHandler) GetPredictions(c *gin.Context) {
	ownerID, exists := auth.GetOwnerID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	records, err := h.predictions.ListByOwner(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch predictions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    records,
		"count":   len(records),
	})
}

// GetPredictionByID returns a single prediction
// GET /api/predictions/:id
func (h *PredictionHandler) GetPredictionByID(c *gin.Context) {
	id, err := h.recordID(c)
	if err != nil {
		return
	}

	rec, err := h.predictions.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    rec,
	})
}

// VerifyPrediction checks one record against its anchored proofs
// GET /api/predictions/:id/verify
func (h *PredictionHandler) VerifyPrediction(c *gin.Context) {
	id, err := h.recordID(c)
	if err != nil {
		return
	}

	var closeTime *time.Time
	if raw := c.Query("market_resolution_time"); raw != "" {
		t, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid market_resolution_time, expected RFC3339"})
			return
		}
		closeTime = &t
	}

	res, err := h.verification.VerifyByID(c.Request.Context(), id, closeTime)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    res,
	})
}

// VerifyProofs checks a commit/resolution proof pair directly by reference,
// without loading a database record
// POST /api/verify
func (h *PredictionHandler) VerifyProofs(c *gin.Context) {
	var req struct {
		CommitRef            string     `json:"commit_ref" binding:"required"`
		ResolveRef           *string    `json:"resolve_ref"`
		MarketResolutionTime *time.Time `json:"market_resolution_time"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.verification.Verify(c.Request.Context(), req.CommitRef, req.ResolveRef, req.MarketResolutionTime)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Ledger unreachable", "safe_to_retry": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    res,
	})
}

// VerifyAll verifies every committed prediction of the authenticated owner
// POST /api/predictions/verify-all
func (h *PredictionHandler) VerifyAll(c *gin.Context) {
	ownerID, exists := auth.GetOwnerID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	res, err := h.verification.VerifyAll(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to run verification"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    res,
	})
}

// GetStats returns the authenticated owner's aggregate track record
// GET /api/stats
func (h *PredictionHandler) GetStats(c *gin.Context) {
	ownerID, exists := auth.GetOwnerID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	summary, err := h.predictions.Stats(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    summary,
	})
}

// RepairPrediction applies a database-only repair from a confirmed ledger ref
// POST /api/predictions/:id/repair
func (h *PredictionHandler) RepairPrediction(c *gin.Context) {
	id, err := h.recordID(c)
	if err != nil {
		return
	}

	var req struct {
		LedgerRef string `json:"ledger_ref" binding:"required"`
		Kind      string `json:"kind" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var rec *models.PredictionRecord
	switch req.Kind {
	case "commit":
		rec, err = h.predictions.RepairCommit(c.Request.Context(), id, req.LedgerRef)
	case "resolution":
		rec, err = h.predictions.RepairResolution(c.Request.Context(), id, req.LedgerRef)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be commit or resolution"})
		return
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    rec,
	})
}

func (h *PredictionHandler) recordID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid prediction id"})
		return uuid.Nil, err
	}
	return id, nil
}
