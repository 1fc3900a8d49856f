package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// ErrorKind classifies a ledger failure at the point it originates, so
// retry decisions are a tag lookup instead of message inspection in callers.
type ErrorKind string

const (
	// KindTransient covers congestion-class failures: worth retrying.
	KindTransient ErrorKind = "TRANSIENT"
	// KindPermanent covers rejected or malformed submissions: never retried.
	KindPermanent ErrorKind = "PERMANENT"
)

// Error is a ledger failure tagged with its retry classification.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err carries the transient tag. Untagged
// errors are treated as non-retryable.
func IsRetryable(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind == KindTransient
	}
	return false
}

// transientSignatures is the closed set of failure shapes the Solana RPC
// surface reports for transient conditions. Matched once here, never in
// callers.
var transientSignatures = []string{
	"network is unreachable",
	"no such host",
	"connection refused",
	"connection reset",
	"timeout",
	"timed out",
	"deadline exceeded",
	"blockhash not found",
	"block height exceeded",
	"not confirmed",
	"node is behind",
	"too many requests",
	"429",
	"503",
	"service unavailable",
}

// transientRPCCodes are JSON-RPC error codes the Solana node returns when
// it is unhealthy or behind; the same request can succeed moments later.
var transientRPCCodes = map[int]bool{
	-32004: true, // block not available
	-32005: true, // node unhealthy
	-32014: true, // block status not yet available
}

func classify(op string, err error) *Error {
	kind := KindPermanent

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTransient
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTransient
	default:
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) && transientRPCCodes[rpcErr.Code] {
			kind = KindTransient
			break
		}
		msg := strings.ToLower(err.Error())
		for _, sig := range transientSignatures {
			if strings.Contains(msg, sig) {
				kind = KindTransient
				break
			}
		}
	}

	return &Error{Kind: kind, Op: op, Err: err}
}

func permanent(op string, err error) *Error {
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}
