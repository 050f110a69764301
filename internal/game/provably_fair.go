package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
)

// SeedSource derives a deterministic stream of uniform values from a server
// seed: draw n is HMAC-SHA256(seed, "crash:n") read as a 64-bit fraction.
type SeedSource struct {
	seed string
	n    int
}

func NewSeedSource(serverSeed string) *SeedSource {
	return &SeedSource{seed: serverSeed}
}

func (s *SeedSource) Float64() float64 {
	h := hmac.New(sha256.New, []byte(s.seed))
	fmt.Fprintf(h, "crash:%d", s.n)
	s.n++
	sum := h.Sum(nil)
	// top 53 bits give an exact float64 in [0, 1)
	return float64(binary.BigEndian.Uint64(sum[:8])>>11) / (1 << 53)
}

// GenerateSeed creates a cryptographically secure random seed
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashCommitment creates a SHA256 hash of the seed for commitment
func HashCommitment(seed string) string {
	h := sha256.New()
	h.Write([]byte(seed))
	return hex.EncodeToString(h.Sum(nil))
}

// Fairness is the audit record published once a round has finished.
type Fairness struct {
	RoundID         int64           `json:"roundId"`
	ServerSeed      string          `json:"serverSeed"`
	Commitment      string          `json:"commitment"`
	CrashMultiplier decimal.Decimal `json:"crashMultiplier"`
	Recomputed      decimal.Decimal `json:"recomputed"`
	Valid           bool            `json:"valid"`
}

// VerifyRound checks that the revealed seed matches the commitment and that
// replaying it through dist yields the recorded crash multiplier.
func VerifyRound(dist Distribution, serverSeed, commitment string, crash decimal.Decimal) (decimal.Decimal, bool) {
	recomputed := dist.Sample(NewSeedSource(serverSeed))
	if HashCommitment(serverSeed) != commitment {
		return recomputed, false
	}
	return recomputed, recomputed.Equal(crash)
}
