package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Client submits memo transactions to Solana and reads them back by
// signature. Stateless: every call is a self-contained network round trip.
type Client struct {
	rpcClient *rpc.Client
	network   string
	wallet    *solana.Wallet
	timeout   time.Duration
}

// Proof is a confirmed memo transaction read back from the chain.
// Found=false is a normal result for an unconfirmed or unknown signature.
type Proof struct {
	Ref         string
	Found       bool
	Payload     []byte
	ConfirmedAt time.Time
}

// NewClient creates a ledger client for the given network. The private key
// signs and pays for memo transactions.
func NewClient(network, serverWalletPrivateKey string) (*Client, error) {
	wallet, err := solana.WalletFromPrivateKeyBase58(serverWalletPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid server wallet private key: %w", err)
	}

	client := &Client{
		rpcClient: rpc.New(rpcURLFor(network)),
		network:   network,
		wallet:    wallet,
		timeout:   30 * time.Second,
	}

	log.Printf("[Ledger] client initialized: network=%s, wallet=%s", network, wallet.PublicKey())
	return client, nil
}

func rpcURLFor(network string) string {
	switch network {
	case "mainnet-beta":
		return "https://api.mainnet-beta.solana.com"
	case "devnet":
		return "https://api.devnet.solana.com"
	case "testnet":
		return "https://api.testnet.solana.com"
	default:
		return "https://api.devnet.solana.com"
	}
}

// WalletAddress returns the base58 public key the client signs with
func (c *Client) WalletAddress() string {
	return c.wallet.PublicKey().String()
}

// SubmitMemo anchors an opaque payload on chain as a memo transaction and
// returns the transaction signature. Failures are tagged transient or
// permanent at this boundary.
func (c *Client) SubmitMemo(ctx context.Context, payload []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	recent, err := c.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return "", classify("getLatestBlockhash", err)
	}

	payer := c.wallet.PublicKey()
	instruction := solana.NewInstruction(
		solana.MemoProgramID,
		[]*solana.AccountMeta{
			{PublicKey: payer, IsWritable: false, IsSigner: true},
		},
		payload,
	)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instruction},
		recent.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return "", permanent("buildTransaction", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &c.wallet.PrivateKey
		}
		return nil
	})
	if err != nil {
		return "", permanent("signTransaction", err)
	}

	sig, err := c.rpcClient.SendTransactionWithOpts(
		ctx,
		tx,
		rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentConfirmed,
		},
	)
	if err != nil {
		return "", classify("sendTransaction", err)
	}

	return sig.String(), nil
}

// FetchProof looks up a memo transaction by signature. A missing or not yet
// confirmed transaction comes back with Found=false, not an error.
func (c *Client) FetchProof(ctx context.Context, ref string) (*Proof, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sig, err := solana.SignatureFromBase58(ref)
	if err != nil {
		return nil, permanent("parseSignature", err)
	}

	status, err := c.rpcClient.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, classify("getSignatureStatuses", err)
	}

	if len(status.Value) == 0 || status.Value[0] == nil {
		return &Proof{Ref: ref}, nil
	}

	if status.Value[0].Err != nil {
		return nil, permanent("getSignatureStatuses",
			fmt.Errorf("transaction %s failed on chain: %v", ref, status.Value[0].Err))
	}

	confStatus := status.Value[0].ConfirmationStatus
	if confStatus != rpc.ConfirmationStatusConfirmed && confStatus != rpc.ConfirmationStatusFinalized {
		return &Proof{Ref: ref}, nil
	}

	res, err := c.rpcClient.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, classify("getTransaction", err)
	}

	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, permanent("decodeTransaction", err)
	}

	payload := extractMemo(tx)
	if payload == nil {
		return nil, permanent("extractMemo",
			fmt.Errorf("transaction %s carries no memo instruction", ref))
	}

	var confirmedAt time.Time
	if res.BlockTime != nil {
		confirmedAt = res.BlockTime.Time().UTC()
	}

	return &Proof{
		Ref:         ref,
		Found:       true,
		Payload:     payload,
		ConfirmedAt: confirmedAt,
	}, nil
}

// extractMemo finds the first memo-program instruction in a transaction
func extractMemo(tx *solana.Transaction) []byte {
	for _, ix := range tx.Message.Instructions {
		prog, err := tx.Message.Program(ix.ProgramIDIndex)
		if err != nil {
			continue
		}
		if prog.Equals(solana.MemoProgramID) {
			return []byte(ix.Data)
		}
	}
	return nil
}
