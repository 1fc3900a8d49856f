package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"prediction-ledger/internal/ledger"
	"prediction-ledger/internal/models"
	"prediction-ledger/internal/repository"
	"prediction-ledger/internal/retry"
)

// fakeLedger is an in-memory stand-in for the Solana client: submitted memos
// become fetchable proofs, and failures can be scripted per call or per ref.
type fakeLedger struct {
	mu                sync.Mutex
	submitCalls       int
	failSubmitWith    error
	transientFailures int
	onSubmit          func(payload []byte)
	proofs            map[string]*ledger.Proof
	failFetch         map[string]error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		proofs:    make(map[string]*ledger.Proof),
		failFetch: make(map[string]error),
	}
}

func (f *fakeLedger) SubmitMemo(ctx context.Context, payload []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submitCalls++
	if f.failSubmitWith != nil {
		return "", f.failSubmitWith
	}
	if f.transientFailures > 0 {
		f.transientFailures--
		return "", &ledger.Error{Kind: ledger.KindTransient, Op: "sendTransaction", Err: errors.New("node is behind")}
	}
	if f.onSubmit != nil {
		f.onSubmit(payload)
	}

	sig := fmt.Sprintf("sig-%d", len(f.proofs)+1)
	f.proofs[sig] = &ledger.Proof{
		Ref:         sig,
		Found:       true,
		Payload:     append([]byte(nil), payload...),
		ConfirmedAt: time.Now().UTC(),
	}
	return sig, nil
}

func (f *fakeLedger) FetchProof(ctx context.Context, ref string) (*ledger.Proof, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.failFetch[ref]; ok {
		return nil, err
	}
	if p, ok := f.proofs[ref]; ok {
		cp := *p
		return &cp, nil
	}
	return &ledger.Proof{Ref: ref}, nil
}

// addProof registers a pre-existing proof, as if a submission landed without
// the database ever hearing back.
func (f *fakeLedger) addProof(ref string, payload []byte, confirmedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proofs[ref] = &ledger.Proof{Ref: ref, Found: true, Payload: payload, ConfirmedAt: confirmedAt}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	if err := db.AutoMigrate(&models.Owner{}, &models.PredictionRecord{}); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return db
}

var testRetry = retry.Config{
	MaxAttempts:  3,
	InitialDelay: time.Millisecond,
	MaxDelay:     5 * time.Millisecond,
	Multiplier:   2.0,
}

type testEnv struct {
	db      *gorm.DB
	repo    *repository.Repository
	ledger  *fakeLedger
	service *PredictionService
	owner   *models.Owner
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	repo := repository.NewRepository(db)
	fl := newFakeLedger()

	owner, err := repo.GetOrCreateOwnerByWallet(context.Background(), "F7regpcL1TX6WgcDfZt1sAJpbWupqi1rvVrJGXBSn9uL")
	if err != nil {
		t.Fatalf("failed to create owner: %v", err)
	}

	return &testEnv{
		db:      db,
		repo:    repo,
		ledger:  fl,
		service: NewPredictionService(repo, fl, testRetry),
		owner:   owner,
	}
}

func (e *testEnv) commitInput(probability string, direction models.Direction) CommitInput {
	return CommitInput{
		OwnerID:     e.owner.ID,
		Question:    "Will BTC close above 100k this month?",
		MarketID:    "mkt-btc-100k",
		Platform:    "polymarket",
		Probability: decimal.RequireFromString(probability),
		Direction:   direction,
	}
}

func TestCommitRejectsInvalidInput(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	cases := []CommitInput{
		env.commitInput("1.2", models.DirectionYes),
		env.commitInput("-0.1", models.DirectionYes),
		env.commitInput("0.5", models.Direction("MAYBE")),
	}

	for _, in := range cases {
		_, err := env.service.Commit(ctx, in)
		var invalid *InvalidInputError
		if !errors.As(err, &invalid) {
			t.Errorf("Commit(%s %s): expected InvalidInputError, got %v", in.Probability, in.Direction, err)
		}
	}

	// rejected before any ledger or database traffic
	if env.ledger.submitCalls != 0 {
		t.Errorf("expected no ledger submissions, got %d", env.ledger.submitCalls)
	}
	var count int64
	env.db.Model(&models.PredictionRecord{}).Count(&count)
	if count != 0 {
		t.Errorf("expected no records persisted, got %d", count)
	}
}

func TestCommitLeavesDatabaseCleanWhenLedgerFails(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.ledger.transientFailures = 100 // outlasts every attempt

	_, err := env.service.Commit(ctx, env.commitInput("0.7", models.DirectionYes))

	var commitErr *LedgerCommitError
	if !errors.As(err, &commitErr) {
		t.Fatalf("expected LedgerCommitError, got %v", err)
	}
	if env.ledger.submitCalls != testRetry.MaxAttempts {
		t.Errorf("expected %d submit attempts, got %d", testRetry.MaxAttempts, env.ledger.submitCalls)
	}

	var recs []models.PredictionRecord
	env.db.Find(&recs)
	if len(recs) != 1 {
		t.Fatalf("expected the uncommitted row to remain, got %d rows", len(recs))
	}
	if recs[0].Committed || recs[0].LedgerCommitRef != nil {
		t.Errorf("record must stay cleanly uncommitted, got committed=%v ref=%v",
			recs[0].Committed, recs[0].LedgerCommitRef)
	}
}

func TestCommitDoesNotRetryPermanentLedgerErrors(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.ledger.failSubmitWith = &ledger.Error{
		Kind: ledger.KindPermanent,
		Op:   "sendTransaction",
		Err:  errors.New("transaction rejected: invalid payload"),
	}

	_, err := env.service.Commit(ctx, env.commitInput("0.6", models.DirectionNo))

	var commitErr *LedgerCommitError
	if !errors.As(err, &commitErr) {
		t.Fatalf("expected LedgerCommitError, got %v", err)
	}
	if env.ledger.submitCalls != 1 {
		t.Errorf("permanent error must not be retried, got %d attempts", env.ledger.submitCalls)
	}
}

func TestSecondCommitNeverWritesLedgerTwice(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	res, err := env.service.Commit(ctx, env.commitInput("0.7", models.DirectionYes))
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	_, err = env.service.CommitRecord(ctx, res.Record.ID)
	if !errors.Is(err, ErrAlreadyCommitted) {
		t.Fatalf("expected ErrAlreadyCommitted, got %v", err)
	}
	if env.ledger.submitCalls != 1 {
		t.Errorf("expected exactly one ledger submission, got %d", env.ledger.submitCalls)
	}

	got, _ := env.repo.GetPredictionByID(ctx, res.Record.ID)
	if *got.LedgerCommitRef != res.LedgerRef {
		t.Errorf("commit ref changed: %s != %s", *got.LedgerCommitRef, res.LedgerRef)
	}
}

func TestResolveRequiresCommit(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	rec := &models.PredictionRecord{
		OwnerID:     env.owner.ID,
		MarketID:    "mkt-uncommitted",
		Probability: decimal.RequireFromString("0.4"),
		Direction:   models.DirectionNo,
	}
	if err := env.repo.CreatePrediction(ctx, rec); err != nil {
		t.Fatalf("failed to create record: %v", err)
	}

	_, err := env.service.Resolve(ctx, rec.ID, true)
	if !errors.Is(err, ErrNotCommitted) {
		t.Fatalf("expected ErrNotCommitted, got %v", err)
	}
	if env.ledger.submitCalls != 0 {
		t.Errorf("expected no ledger writes, got %d", env.ledger.submitCalls)
	}

	got, _ := env.repo.GetPredictionByID(ctx, rec.ID)
	if got.Outcome != nil || got.Score != nil || got.ResolvedAt != nil {
		t.Error("expected no resolution state persisted")
	}
}

func TestResolveUnknownRecord(t *testing.T) {
	env := setupEnv(t)

	_, err := env.service.Resolve(context.Background(), uuid.New(), true)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveLeavesRecordUnresolvedWhenLedgerFails(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	res, err := env.service.Commit(ctx, env.commitInput("0.7", models.DirectionYes))
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	env.ledger.transientFailures = 100
	_, err = env.service.Resolve(ctx, res.Record.ID, true)

	var resolveErr *LedgerResolveError
	if !errors.As(err, &resolveErr) {
		t.Fatalf("expected LedgerResolveError, got %v", err)
	}

	got, _ := env.repo.GetPredictionByID(ctx, res.Record.ID)
	if got.Outcome != nil || got.Score != nil || got.LedgerResolveRef != nil {
		t.Error("failed resolution must not persist partial state")
	}

	// resolution is safe to retry whole once the ledger recovers
	env.ledger.transientFailures = 0
	if _, err := env.service.Resolve(ctx, res.Record.ID, true); err != nil {
		t.Fatalf("retried Resolve failed: %v", err)
	}
}

func TestCommitResolveScenario(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	commitRes, err := env.service.Commit(ctx, env.commitInput("0.7", models.DirectionYes))
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if !commitRes.Record.Committed || commitRes.Record.LedgerCommitRef == nil {
		t.Fatal("expected committed record with ledger ref")
	}

	resolveRes, err := env.service.Resolve(ctx, commitRes.Record.ID, true)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if !resolveRes.Score.Equal(decimal.RequireFromString("0.09")) {
		t.Errorf("score = %s, want 0.09", resolveRes.Score)
	}
	rec := resolveRes.Record
	if rec.ResolvedAt == nil {
		t.Error("expected resolved_at to be set")
	}
	if rec.LedgerResolveRef == nil {
		t.Fatal("expected resolution ledger ref")
	}
	if *rec.LedgerResolveRef == *rec.LedgerCommitRef {
		t.Error("resolution ref must differ from commit ref")
	}
	if rec.Outcome == nil || !*rec.Outcome {
		t.Errorf("unexpected outcome: %v", rec.Outcome)
	}

	// the anchored resolution memo references the commit
	proof, err := env.ledger.FetchProof(ctx, *rec.LedgerResolveRef)
	if err != nil || !proof.Found {
		t.Fatalf("resolution proof missing: %v", err)
	}
	memo, err := ledger.DecodeResolveMemo(proof.Payload)
	if err != nil {
		t.Fatalf("failed to decode resolution memo: %v", err)
	}
	if memo.CommitRef != *rec.LedgerCommitRef {
		t.Errorf("memo references %s, want %s", memo.CommitRef, *rec.LedgerCommitRef)
	}
}

func TestCommitReportsDivergenceWhenDatabaseWriteLoses(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	rec := &models.PredictionRecord{
		OwnerID:     env.owner.ID,
		MarketID:    "mkt-race",
		Probability: decimal.RequireFromString("0.5"),
		Direction:   models.DirectionYes,
	}
	if err := env.repo.CreatePrediction(ctx, rec); err != nil {
		t.Fatalf("failed to create record: %v", err)
	}

	// a concurrent commit wins the database guard between our ledger write
	// and our database update
	env.ledger.onSubmit = func([]byte) {
		if err := env.repo.MarkCommitted(ctx, rec.ID, "sig-concurrent"); err != nil {
			t.Fatalf("concurrent MarkCommitted failed: %v", err)
		}
	}

	_, err := env.service.CommitRecord(ctx, rec.ID)

	var div *DivergenceError
	if !errors.As(err, &div) {
		t.Fatalf("expected DivergenceError, got %v", err)
	}
	if div.LedgerRef == "" || div.LedgerRef == "sig-concurrent" {
		t.Errorf("divergence must carry our confirmed ledger ref, got %q", div.LedgerRef)
	}
	if div.RecordID != rec.ID {
		t.Errorf("divergence names record %s, want %s", div.RecordID, rec.ID)
	}
}

func TestRepairCommitIsDatabaseOnly(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	rec := &models.PredictionRecord{
		OwnerID:     env.owner.ID,
		MarketID:    "mkt-divergent",
		Probability: decimal.RequireFromString("0.8"),
		Direction:   models.DirectionYes,
	}
	if err := env.repo.CreatePrediction(ctx, rec); err != nil {
		t.Fatalf("failed to create record: %v", err)
	}

	// the proof exists on the ledger, the database never heard back
	memo := ledger.NewCommitMemo(rec.ID.String(), env.owner.WalletAddress,
		rec.MarketID, "0.8", string(models.DirectionYes), time.Now().Unix())
	payload, _ := memo.Encode()
	env.ledger.addProof("sig-orphaned", payload, time.Now().UTC())

	repaired, err := env.service.RepairCommit(ctx, rec.ID, "sig-orphaned")
	if err != nil {
		t.Fatalf("RepairCommit failed: %v", err)
	}
	if !repaired.Committed || repaired.LedgerCommitRef == nil || *repaired.LedgerCommitRef != "sig-orphaned" {
		t.Errorf("repair did not restore the commit ref: %+v", repaired)
	}
	if env.ledger.submitCalls != 0 {
		t.Errorf("repair must never submit to the ledger, got %d calls", env.ledger.submitCalls)
	}

	// a proof anchoring a different record must be refused
	other := &models.PredictionRecord{
		OwnerID:     env.owner.ID,
		MarketID:    "mkt-other",
		Probability: decimal.RequireFromString("0.3"),
		Direction:   models.DirectionNo,
	}
	if err := env.repo.CreatePrediction(ctx, other); err != nil {
		t.Fatalf("failed to create record: %v", err)
	}
	if _, err := env.service.RepairCommit(ctx, other.ID, "sig-orphaned"); err == nil {
		t.Error("expected repair with a foreign proof to fail")
	}
}

func TestStatsOnEmptyOwner(t *testing.T) {
	env := setupEnv(t)

	s, err := env.service.Stats(context.Background(), env.owner.ID)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if s.Total != 0 || s.VerificationRate != 0 || s.Accuracy != 0 {
		t.Errorf("expected zeroed summary, got %+v", s)
	}
	if !s.MeanScore.IsZero() {
		t.Errorf("expected zero mean score, got %s", s.MeanScore)
	}
}
