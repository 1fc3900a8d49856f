package jobs

import (
	"context"
	"log"
	"time"

	"prediction-ledger/internal/repository"
	"prediction-ledger/internal/services"
)

// Reconciler periodically re-verifies committed predictions against their
// anchored proofs and flags records whose database state has drifted.
type Reconciler struct {
	repo         *repository.Repository
	verification *services.VerificationService
	interval     time.Duration
	batchSize    int
	stopChan     chan struct{}
}

// NewReconciler creates a new reconciliation job
func NewReconciler(repo *repository.Repository, vs *services.VerificationService, interval time.Duration, batchSize int) *Reconciler {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reconciler{
		repo:         repo,
		verification: vs,
		interval:     interval,
		batchSize:    batchSize,
		stopChan:     make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (rc *Reconciler) Start() {
	log.Printf("[Reconciler] Starting reconciliation job (interval: %v)", rc.interval)

	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.sweep()
		case <-rc.stopChan:
			log.Println("[Reconciler] Stopping reconciliation job")
			return
		}
	}
}

// Stop stops the reconciliation loop
func (rc *Reconciler) Stop() {
	close(rc.stopChan)
}

// sweep verifies one batch of committed records. A record that fails its
// cross-store checks is flagged divergent; a flagged record that verifies
// again is cleared. Fetch failures are logged and leave the flag untouched.
func (rc *Reconciler) sweep() {
	ctx := context.Background()

	records, err := rc.repo.ListCommitted(ctx, rc.batchSize)
	if err != nil {
		log.Printf("[Reconciler] Error listing committed predictions: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}

	flagged := 0
	cleared := 0

	for i := range records {
		rec := &records[i]

		res, err := rc.verification.VerifyRecord(ctx, rec, nil)
		if err != nil {
			log.Printf("[Reconciler] Error verifying prediction %s: %v", rec.ID, err)
			continue
		}

		switch {
		case !res.Valid && !rec.Divergent:
			log.Printf("[Reconciler] Prediction %s diverged from ledger: %v", rec.ID, res.Errors)
			if err := rc.repo.FlagDivergent(ctx, rec.ID, true); err != nil {
				log.Printf("[Reconciler] Error flagging prediction %s: %v", rec.ID, err)
				continue
			}
			flagged++
		case res.Valid && rec.Divergent:
			if err := rc.repo.FlagDivergent(ctx, rec.ID, false); err != nil {
				log.Printf("[Reconciler] Error clearing flag on prediction %s: %v", rec.ID, err)
				continue
			}
			cleared++
		}
	}

	if flagged > 0 || cleared > 0 {
		log.Printf("[Reconciler] Checked %d predictions: %d flagged, %d cleared", len(records), flagged, cleared)
	}
}
