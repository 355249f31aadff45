package entropy

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fortune-wheel/internal/solana"
)

// RPC is the slice of the Solana client the entropy source consumes. Any
// source of similarly unpredictable, externally-unobservable-in-advance
// values can stand in.
type RPC interface {
	LatestBlockhash(ctx context.Context, commitment string) (string, error)
	RecentPerformanceSamples(ctx context.Context, limit int) ([]solana.PerfSample, error)
}

// Result carries the drawn value with its provenance fields, persisted on
// the raffle round.
type Result struct {
	RequestID string
	Value     uint64
	Proof     string
}

// Source mixes network state hashes and load statistics with a
// high-resolution timestamp through SHA-256. The value cannot be predicted
// before the draw because it depends on chain state at draw time.
type Source struct {
	RPC RPC
}

func NewSource(rpc RPC) *Source {
	return &Source{RPC: rpc}
}

// Mix digests the entropy parts and folds the first 8 bytes into a uint64.
// Pure; the draw's determinism tests run against it.
func Mix(parts ...string) uint64 {
	hash := sha256.Sum256([]byte(strings.Join(parts, "")))
	return binary.BigEndian.Uint64(hash[:8])
}

// Request produces a random value for the round, with a request id and a
// human-readable proof string.
func (s *Source) Request(ctx context.Context, roundID string) (*Result, error) {
	reqHash := sha256.Sum256([]byte(roundID + strconv.FormatInt(time.Now().UnixNano(), 10)))
	requestID := hex.EncodeToString(reqHash[:])

	confirmed, err := s.RPC.LatestBlockhash(ctx, "confirmed")
	if err != nil {
		return nil, fmt.Errorf("latest blockhash: %w", err)
	}
	finalized, err := s.RPC.LatestBlockhash(ctx, "finalized")
	if err != nil {
		return nil, fmt.Errorf("finalized blockhash: %w", err)
	}
	samples, err := s.RPC.RecentPerformanceSamples(ctx, 5)
	if err != nil {
		return nil, fmt.Errorf("performance samples: %w", err)
	}

	var sampleValues strings.Builder
	for _, sample := range samples {
		sampleValues.WriteString(strconv.FormatUint(sample.NumSlots+sample.NumTransactions, 10))
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	value := Mix(confirmed, finalized, sampleValues.String(), timestamp)

	proof := fmt.Sprintf("sha256(blockhash %s + finalized %s + %d perf samples + timestamp)",
		shorten(confirmed), shorten(finalized), len(samples))

	return &Result{RequestID: requestID, Value: value, Proof: proof}, nil
}

func shorten(hash string) string {
	if len(hash) <= 8 {
		return hash
	}
	return hash[:8] + "..."
}
