package verification

import (
	"fmt"
	"strings"
)

// Scoring policy inherited from the source system. The weights, fixed
// contribution values, and verdict thresholds are a compatibility contract;
// changing any of them is a behavioral break.
const (
	weightAIForensics = 0.6
	weightBlockchain  = 0.2
	weightIPFS        = 0.1
	weightManual      = 0.1

	blockchainConfirmedScore = 90.0
	ipfsPinnedScore          = 80.0
	manualApprovedScore      = 95.0
	manualRejectedScore      = 10.0
	manualDefaultScore       = 50.0

	thresholdAuthentic  = 80.0
	thresholdSuspicious = 60.0
	thresholdTampered   = 40.0
)

// Score derives the overall verdict from the partial results bag. Pure and
// deterministic: the weighted average runs over contributing components only,
// with weights renormalized. An empty bag scores 0, inconclusive.
func Score(bag ResultBag) OverallResult {
	var weightedSum, totalWeight float64
	var contributed []string

	if ai := bag.AIForensics; ai != nil && ai.Status == ProviderStatusCompleted {
		aiScore := (ai.Authenticity + (100 - ai.Tampering)) / 2
		weightedSum += aiScore * weightAIForensics
		totalWeight += weightAIForensics
		contributed = append(contributed, fmt.Sprintf("AI forensics %.1f", aiScore))
	}

	if bc := bag.Blockchain; bc != nil && bc.Status == "confirmed" {
		weightedSum += blockchainConfirmedScore * weightBlockchain
		totalWeight += weightBlockchain
		contributed = append(contributed, "blockchain notarization confirmed")
	}

	if ipfs := bag.IPFS; ipfs != nil && ipfs.Pinned {
		weightedSum += ipfsPinnedScore * weightIPFS
		totalWeight += weightIPFS
		contributed = append(contributed, "IPFS pin succeeded")
	}

	if m := bag.Manual; m != nil && m.Status == ProviderStatusCompleted {
		score := manualDefaultScore
		switch m.Decision {
		case DecisionApproved:
			score = manualApprovedScore
		case DecisionRejected:
			score = manualRejectedScore
		}
		weightedSum += score * weightManual
		totalWeight += weightManual
		contributed = append(contributed, fmt.Sprintf("manual review %s", m.Decision))
	}

	var score float64
	if totalWeight > 0 {
		score = weightedSum / totalWeight
	}

	verdict, recommendations := classify(score)

	summary := "No verification component produced a result."
	if len(contributed) > 0 {
		summary = fmt.Sprintf("Verdict %s (score %.1f) from: %s.",
			verdict, score, strings.Join(contributed, "; "))
	}

	return OverallResult{
		Score:           score,
		Verdict:         verdict,
		Summary:         summary,
		Recommendations: recommendations,
	}
}

func classify(score float64) (Verdict, []string) {
	switch {
	case score >= thresholdAuthentic:
		return VerdictAuthentic, []string{"Document can be treated as authentic."}
	case score >= thresholdSuspicious:
		return VerdictSuspicious, []string{"Request a manual review before accepting the document."}
	case score >= thresholdTampered:
		return VerdictTampered, []string{"Reject the document; tampering indicators present."}
	default:
		return VerdictInconclusive, []string{"Run additional verification; current evidence is insufficient."}
	}
}
