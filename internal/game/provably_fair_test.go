package game

import (
	"testing"
)

func TestSeedSource_Range(t *testing.T) {
	tests := []struct {
		name string
		seed string
	}{
		{name: "Basic test", seed: "test_server_seed_123"},
		{name: "Empty seed", seed: ""},
		{name: "Generated seed", seed: GenerateSeed()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewSeedSource(tt.seed)
			for i := 0; i < 1000; i++ {
				got := src.Float64()
				if got < 0 || got >= 1 {
					t.Fatalf("Float64() draw %d = %v, want [0, 1)", i, got)
				}
			}
		})
	}
}

func TestSeedSource_Deterministic(t *testing.T) {
	a := NewSeedSource("deterministic_test_seed")
	b := NewSeedSource("deterministic_test_seed")

	for i := 0; i < 10; i++ {
		if x, y := a.Float64(), b.Float64(); x != y {
			t.Fatalf("draw %d differs: %v vs %v", i, x, y)
		}
	}
}

func TestSeedSource_DifferentDraws(t *testing.T) {
	src := NewSeedSource("test_seed")

	result1 := src.Float64()
	result2 := src.Float64()
	result3 := src.Float64()

	if result1 == result2 && result2 == result3 {
		t.Error("Float64() produced the same value three times in a row")
	}
}

func TestGenerateSeed(t *testing.T) {
	seed1 := GenerateSeed()
	seed2 := GenerateSeed()

	if seed1 == seed2 {
		t.Error("GenerateSeed() produced duplicate seeds")
	}

	if len(seed1) != 64 { // 32 bytes = 64 hex characters
		t.Errorf("GenerateSeed() length = %v, want 64", len(seed1))
	}
}

func TestHashCommitment(t *testing.T) {
	seed := "test_seed_12345"

	hash1 := HashCommitment(seed)
	hash2 := HashCommitment(seed)

	if hash1 != hash2 {
		t.Error("HashCommitment() is not deterministic")
	}

	if len(hash1) != 64 { // SHA256 = 64 hex characters
		t.Errorf("HashCommitment() length = %v, want 64", len(hash1))
	}

	if HashCommitment("other_seed") == hash1 {
		t.Error("HashCommitment() collided for different seeds")
	}
}

func TestVerifyRound(t *testing.T) {
	dist := DefaultDistribution()
	serverSeed := "verification_test_seed"
	commitment := HashCommitment(serverSeed)
	actual := dist.Sample(NewSeedSource(serverSeed))

	tests := []struct {
		name       string
		serverSeed string
		commitment string
		crash      string
		want       bool
	}{
		{
			name:       "Valid verification",
			serverSeed: serverSeed,
			commitment: commitment,
			crash:      actual.String(),
			want:       true,
		},
		{
			name:       "Invalid multiplier",
			serverSeed: serverSeed,
			commitment: commitment,
			crash:      actual.Add(dec("10")).String(),
			want:       false,
		},
		{
			name:       "Wrong server seed",
			serverSeed: "wrong_seed",
			commitment: commitment,
			crash:      actual.String(),
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recomputed, got := VerifyRound(dist, tt.serverSeed, tt.commitment, dec(tt.crash))
			if got != tt.want {
				t.Errorf("VerifyRound() = %v, want %v (recomputed %s)", got, tt.want, recomputed)
			}
		})
	}
}

func BenchmarkSeedSource(b *testing.B) {
	src := NewSeedSource("benchmark_server_seed")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		src.Float64()
	}
}

func BenchmarkGenerateSeed(b *testing.B) {
	for i := 0; i < b.N; i++ {
		GenerateSeed()
	}
}

func BenchmarkHashCommitment(b *testing.B) {
	seed := "benchmark_seed_12345"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		HashCommitment(seed)
	}
}
