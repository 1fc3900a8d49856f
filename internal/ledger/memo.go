package ledger

import (
	"encoding/json"
	"fmt"
)

const (
	memoVersion = 1

	MemoKindCommit  = "commit"
	MemoKindResolve = "resolve"
)

// CommitMemo is the payload anchored when a forecast is committed. RecordID
// is the database record UUID and doubles as the idempotency key: a retry
// after an ambiguous failure re-submits identical content, so any duplicate
// proof is attributable to the same logical prediction.
type CommitMemo struct {
	Version     int    `json:"v"`
	Kind        string `json:"t"`
	RecordID    string `json:"rid"`
	OwnerKey    string `json:"owner"`
	MarketID    string `json:"market"`
	Probability string `json:"p"`
	Direction   string `json:"dir"`
	Timestamp   int64  `json:"ts"`
}

// ResolveMemo is the payload anchored at resolution, referencing the commit
// transaction it settles.
type ResolveMemo struct {
	Version     int    `json:"v"`
	Kind        string `json:"t"`
	CommitRef   string `json:"ref"`
	Probability string `json:"p"`
	Direction   string `json:"dir"`
	Outcome     bool   `json:"outcome"`
	Timestamp   int64  `json:"ts"`
}

func NewCommitMemo(recordID, ownerKey, marketID, probability, direction string, ts int64) CommitMemo {
	return CommitMemo{
		Version:     memoVersion,
		Kind:        MemoKindCommit,
		RecordID:    recordID,
		OwnerKey:    ownerKey,
		MarketID:    marketID,
		Probability: probability,
		Direction:   direction,
		Timestamp:   ts,
	}
}

func NewResolveMemo(commitRef, probability, direction string, outcome bool, ts int64) ResolveMemo {
	return ResolveMemo{
		Version:     memoVersion,
		Kind:        MemoKindResolve,
		CommitRef:   commitRef,
		Probability: probability,
		Direction:   direction,
		Outcome:     outcome,
		Timestamp:   ts,
	}
}

func (m CommitMemo) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func (m ResolveMemo) Encode() ([]byte, error) {
	return json.Marshal(m)
}

type memoHeader struct {
	Version int    `json:"v"`
	Kind    string `json:"t"`
}

// MemoKind peeks at a raw memo payload and returns its kind
func MemoKind(data []byte) (string, error) {
	var h memoHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return "", fmt.Errorf("failed to parse memo header: %w", err)
	}
	return h.Kind, nil
}

// DecodeCommitMemo parses a commit payload, rejecting other memo kinds
func DecodeCommitMemo(data []byte) (*CommitMemo, error) {
	var m CommitMemo
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse commit memo: %w", err)
	}
	if m.Kind != MemoKindCommit {
		return nil, fmt.Errorf("unexpected memo kind %q, want %q", m.Kind, MemoKindCommit)
	}
	return &m, nil
}

// DecodeResolveMemo parses a resolution payload, rejecting other memo kinds
func DecodeResolveMemo(data []byte) (*ResolveMemo, error) {
	var m ResolveMemo
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse resolve memo: %w", err)
	}
	if m.Kind != MemoKindResolve {
		return nil, fmt.Errorf("unexpected memo kind %q, want %q", m.Kind, MemoKindResolve)
	}
	return &m, nil
}
