package verification

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreEmptyBag(t *testing.T) {
	result := Score(ResultBag{})

	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, VerdictInconclusive, result.Verdict)
	assert.Equal(t, "No verification component produced a result.", result.Summary)
	assert.NotEmpty(t, result.Recommendations)
}

func TestScoreAIForensicsOnly(t *testing.T) {
	bag := ResultBag{
		AIForensics: &AIForensicsResult{
			Status:       ProviderStatusCompleted,
			Authenticity: 85,
			Tampering:    15,
		},
	}

	result := Score(bag)

	// (85 + (100-15)) / 2 = 85, sole contributor so renormalized to itself.
	assert.InDelta(t, 85.0, result.Score, 0.001)
	assert.Equal(t, VerdictAuthentic, result.Verdict)
}

func TestScoreBlockchainOnly(t *testing.T) {
	bag := ResultBag{
		Blockchain: &BlockchainResult{Status: "confirmed", TxHash: "0xabc"},
	}

	result := Score(bag)

	assert.InDelta(t, 90.0, result.Score, 0.001)
	assert.Equal(t, VerdictAuthentic, result.Verdict)
	assert.Contains(t, result.Summary, "blockchain notarization confirmed")
}

func TestScoreIgnoresFailedComponents(t *testing.T) {
	bag := ResultBag{
		AIForensics: &AIForensicsResult{Status: ProviderStatusFailed},
		Blockchain:  &BlockchainResult{Status: "confirmed"},
	}

	result := Score(bag)

	assert.InDelta(t, 90.0, result.Score, 0.001)
}

func TestScoreFullHybrid(t *testing.T) {
	bag := ResultBag{
		AIForensics: &AIForensicsResult{
			Status:       ProviderStatusCompleted,
			Authenticity: 90,
			Tampering:    10,
		},
		Blockchain: &BlockchainResult{Status: "confirmed"},
		IPFS:       &IPFSResult{Status: ProviderStatusCompleted, Pinned: true},
		Manual:     &ManualResult{Status: ProviderStatusCompleted, Decision: DecisionApproved},
	}

	result := Score(bag)

	// 90*0.6 + 90*0.2 + 80*0.1 + 95*0.1 = 89.5 over full weight 1.0
	assert.InDelta(t, 89.5, result.Score, 0.001)
	assert.Equal(t, VerdictAuthentic, result.Verdict)
}

func TestScoreManualDecisions(t *testing.T) {
	tests := []struct {
		name     string
		decision string
		want     float64
		verdict  Verdict
	}{
		{"approved", DecisionApproved, 95, VerdictAuthentic},
		{"rejected", DecisionRejected, 10, VerdictInconclusive},
		{"needs info", DecisionNeedsInfo, 50, VerdictTampered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bag := ResultBag{
				Manual: &ManualResult{Status: ProviderStatusCompleted, Decision: tt.decision},
			}
			result := Score(bag)
			assert.InDelta(t, tt.want, result.Score, 0.001)
			assert.Equal(t, tt.verdict, result.Verdict)
		})
	}
}

func TestScoreVerdictThresholds(t *testing.T) {
	tests := []struct {
		name         string
		authenticity float64
		tampering    float64
		verdict      Verdict
	}{
		{"authentic at boundary", 80, 20, VerdictAuthentic},
		{"suspicious at boundary", 60, 40, VerdictSuspicious},
		{"tampered at boundary", 40, 60, VerdictTampered},
		{"inconclusive below", 30, 70, VerdictInconclusive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bag := ResultBag{
				AIForensics: &AIForensicsResult{
					Status:       ProviderStatusCompleted,
					Authenticity: tt.authenticity,
					Tampering:    tt.tampering,
				},
			}
			result := Score(bag)
			assert.Equal(t, tt.verdict, result.Verdict)
		})
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	bag := ResultBag{
		AIForensics: &AIForensicsResult{
			Status:       ProviderStatusCompleted,
			Authenticity: 72,
			Tampering:    31,
		},
		IPFS: &IPFSResult{Status: ProviderStatusCompleted, Pinned: true},
	}

	first := Score(bag)
	second := Score(bag)

	assert.Equal(t, first, second)
}
