package solana

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	qrcode "github.com/skip2/go-qrcode"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// ErrTransferNotFound means no confirmed transfer for the reference (or
// wallet) satisfied the expected amount yet.
var ErrTransferNotFound = errors.New("no matching transfer found")

// TransferRequest is what a caller needs to render a payment UI.
type TransferRequest struct {
	URL    string `json:"url"`
	QRCode []byte `json:"qr_code"`
}

// PaymentCandidate is a validated transfer from a wallet to the program
// address, used by the fallback verification path.
type PaymentCandidate struct {
	Signature string
	Amount    float64 // SOL
}

// Rail is the Solana Pay payment rail: it builds transfer-request URLs and
// looks up confirmed transfers on chain.
type Rail struct {
	RPC       *Client
	Recipient string // program public key receiving payments
}

func NewRail(rpc *Client, recipient string) *Rail {
	return &Rail{RPC: rpc, Recipient: recipient}
}

// CreateTransferRequest encodes a Solana Pay transfer-request URL and its
// QR code for the given amount and reference.
func (r *Rail) CreateTransferRequest(amount float64, reference, label, message string) (*TransferRequest, error) {
	if r.Recipient == "" {
		return nil, errors.New("program public key not configured")
	}

	params := url.Values{}
	params.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))
	params.Set("reference", reference)
	params.Set("label", label)
	params.Set("message", message)

	payURL := "solana:" + r.Recipient + "?" + params.Encode()

	png, err := qrcode.Encode(payURL, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode payment QR: %w", err)
	}

	return &TransferRequest{URL: payURL, QRCode: png}, nil
}

// FindAndValidateTransfer looks up the transaction carrying the reference
// and checks it moved at least expectedAmount SOL to the program address.
// Returns the transaction signature, or ErrTransferNotFound.
func (r *Rail) FindAndValidateTransfer(ctx context.Context, reference string, expectedAmount float64) (string, error) {
	infos, err := r.RPC.SignaturesForAddress(ctx, reference, 1)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", ErrTransferNotFound
	}
	info := infos[0]
	if info.Err != nil {
		return "", ErrTransferNotFound
	}

	tx, err := r.RPC.GetTransaction(ctx, info.Signature)
	if err != nil {
		return "", err
	}
	if tx == nil {
		return "", ErrTransferNotFound
	}

	lamports := transferAmount(tx, r.Recipient)
	if float64(lamports) < expectedAmount*LamportsPerSOL {
		return "", ErrTransferNotFound
	}
	return info.Signature, nil
}

// RecentPayments scans the program address for confirmed transfers sent by
// the wallet that satisfy the expected amount. Used when no reference-based
// request exists; the caller deduplicates signatures.
func (r *Rail) RecentPayments(ctx context.Context, wallet string, expectedAmount float64, limit int) ([]PaymentCandidate, error) {
	infos, err := r.RPC.SignaturesForAddress(ctx, r.Recipient, limit)
	if err != nil {
		return nil, err
	}

	var candidates []PaymentCandidate
	for _, info := range infos {
		if info.Err != nil {
			continue
		}
		tx, err := r.RPC.GetTransaction(ctx, info.Signature)
		if err != nil || tx == nil {
			continue
		}
		if !isPaymentFrom(tx, wallet, r.Recipient) {
			continue
		}
		lamports := transferAmount(tx, r.Recipient)
		if float64(lamports) < expectedAmount*LamportsPerSOL {
			continue
		}
		candidates = append(candidates, PaymentCandidate{
			Signature: info.Signature,
			Amount:    float64(lamports) / LamportsPerSOL,
		})
	}
	return candidates, nil
}

// transferAmount is the recipient's balance delta in lamports, 0 when the
// recipient does not appear in the transaction.
func transferAmount(tx *Transaction, recipient string) int64 {
	if tx.Meta == nil {
		return 0
	}
	idx := accountIndex(tx, recipient)
	if idx < 0 || idx >= len(tx.Meta.PreBalances) || idx >= len(tx.Meta.PostBalances) {
		return 0
	}
	return int64(tx.Meta.PostBalances[idx]) - int64(tx.Meta.PreBalances[idx])
}

// isPaymentFrom checks that both parties appear in the transaction and the
// recipient's balance increased.
func isPaymentFrom(tx *Transaction, from, to string) bool {
	if tx.Meta == nil {
		return false
	}
	if accountIndex(tx, from) < 0 {
		return false
	}
	return transferAmount(tx, to) > 0
}

func accountIndex(tx *Transaction, address string) int {
	for i, key := range tx.Transaction.Message.AccountKeys {
		if key == address {
			return i
		}
	}
	return -1
}
