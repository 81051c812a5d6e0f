package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// LoadWalletFromEnv reads the payer key from X402_PRIVATE_KEY (base58),
// loading .env first on a best-effort basis.
func LoadWalletFromEnv() (solana.PrivateKey, error) {
	_ = godotenv.Load()
	b58 := os.Getenv("X402_PRIVATE_KEY")
	if b58 == "" {
		return nil, errors.New("X402_PRIVATE_KEY not set")
	}
	return solana.PrivateKeyFromBase58(b58)
}

// X402Handler settles per-cycle compute payments: it asks the facilitator
// for a ready-to-sign settlement transaction, signs it locally, and submits
// it via RPC. Any failure along the way denies the cycle.
type X402Handler struct {
	facilitator string
	rpc         *rpc.Client
	owner       solana.PrivateKey
	treasury    solana.PublicKey
	commit      rpc.CommitmentType
	http        *http.Client
	log         zerolog.Logger
}

// NewX402Handler wires the facilitator, RPC endpoint, and payer wallet.
func NewX402Handler(facilitatorURL, rpcURL, treasury string, owner solana.PrivateKey, commit string, log zerolog.Logger) (*X402Handler, error) {
	payee, err := solana.PublicKeyFromBase58(treasury)
	if err != nil {
		return nil, fmt.Errorf("treasury address: %w", err)
	}
	c := rpc.CommitmentConfirmed
	switch commit {
	case "processed":
		c = rpc.CommitmentProcessed
	case "finalized":
		c = rpc.CommitmentFinalized
	}
	return &X402Handler{
		facilitator: facilitatorURL,
		rpc:         rpc.New(rpcURL),
		owner:       owner,
		treasury:    payee,
		commit:      c,
		http:        &http.Client{Timeout: 8 * time.Second},
		log:         log,
	}, nil
}

type settleRequest struct {
	Payer  string  `json:"payer"`
	Payee  string  `json:"payee"`
	Amount float64 `json:"amount"`
}

type settleResponse struct {
	PaymentTransaction string `json:"paymentTransaction"` // base64-encoded tx (unsigned)
}

// AuthorizeComputeCycle pays for one cycle. HTTP 402 from the facilitator is
// a clean denial (exhausted balance); everything else that fails is an error,
// and both halt the loop.
func (h *X402Handler) AuthorizeComputeCycle(ctx context.Context, cost float64) (bool, error) {
	body, _ := json.Marshal(settleRequest{
		Payer:  h.owner.PublicKey().String(),
		Payee:  h.treasury.String(),
		Amount: cost,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.facilitator+"/settle", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("facilitator: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusPaymentRequired {
		h.log.Warn().Float64("cost", cost).Msg("facilitator refused payment")
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("facilitator status %d", resp.StatusCode)
	}
	var sr settleResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return false, fmt.Errorf("decode settle response: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(sr.PaymentTransaction)
	if err != nil {
		return false, fmt.Errorf("decode tx: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return false, fmt.Errorf("unmarshal tx: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(h.owner.PublicKey()) {
			return &h.owner
		}
		return nil
	}); err != nil {
		return false, fmt.Errorf("sign: %w", err)
	}

	sig, err := h.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: h.commit,
	})
	if err != nil {
		return false, fmt.Errorf("submit payment: %w", err)
	}
	h.log.Info().Float64("cost", cost).Str("tx", sig.String()).Msg("paid for compute cycle")
	return true, nil
}
