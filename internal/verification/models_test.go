package verification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	for _, valid := range []string{"ai_forensics", "blockchain", "ipfs", "manual", "hybrid"} {
		vtype, err := ParseType(valid)
		require.NoError(t, err)
		assert.Equal(t, Type(valid), vtype)
	}

	_, err := ParseType("palmistry")
	require.Error(t, err)
	assert.Equal(t, CodeInvalidArgument, CodeOf(err))
}

func TestParsePriorityDefaultsToNormal(t *testing.T) {
	p, err := ParsePriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, p)

	_, err = ParsePriority("yesterday")
	require.Error(t, err)
}

func TestPriorityRankOrdering(t *testing.T) {
	assert.Less(t, PriorityLow.Rank(), PriorityNormal.Rank())
	assert.Less(t, PriorityNormal.Rank(), PriorityHigh.Rank())
	assert.Less(t, PriorityHigh.Rank(), PriorityUrgent.Rank())
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestResultBagMergeKeepsUnrelatedFields(t *testing.T) {
	bag := ResultBag{
		AIForensics: &AIForensicsResult{Status: ProviderStatusProcessing, ProviderJobID: "job-1"},
	}

	bag.Merge(ResultBag{Blockchain: &BlockchainResult{Status: "confirmed"}})

	require.NotNil(t, bag.AIForensics)
	assert.Equal(t, "job-1", bag.AIForensics.ProviderJobID)
	require.NotNil(t, bag.Blockchain)
	assert.Equal(t, "confirmed", bag.Blockchain.Status)
}

func TestResultBagMergeOverwritesSameProvider(t *testing.T) {
	bag := ResultBag{
		AIForensics: &AIForensicsResult{Status: ProviderStatusProcessing},
	}

	bag.Merge(ResultBag{AIForensics: &AIForensicsResult{Status: ProviderStatusCompleted, Authenticity: 91}})

	assert.Equal(t, ProviderStatusCompleted, bag.AIForensics.Status)
	assert.Equal(t, 91.0, bag.AIForensics.Authenticity)
}

func TestResultBagReported(t *testing.T) {
	bag := ResultBag{
		AIForensics: &AIForensicsResult{Status: ProviderStatusProcessing},
		Blockchain:  &BlockchainResult{Status: "confirmed"},
		IPFS:        &IPFSResult{Status: ProviderStatusFailed},
	}

	assert.False(t, bag.Reported(TypeAIForensics))
	assert.True(t, bag.Reported(TypeBlockchain))
	assert.True(t, bag.Reported(TypeIPFS))
	assert.False(t, bag.Reported(TypeManual))
}

func TestRequestProgress(t *testing.T) {
	req := &Request{
		ExpectedProviders: []string{"ai_forensics", "blockchain", "ipfs", "manual"},
		Results: ResultBag{
			AIForensics: &AIForensicsResult{Status: ProviderStatusCompleted},
			Blockchain:  &BlockchainResult{Status: ProviderStatusProcessing},
			IPFS:        &IPFSResult{Status: ProviderStatusFailed},
		},
	}

	assert.InDelta(t, 0.5, req.Progress(), 0.001)
	assert.False(t, req.AllReported())
	assert.False(t, req.AllFailed())
}

func TestRequestAllFailed(t *testing.T) {
	req := &Request{
		ExpectedProviders: []string{"ai_forensics", "ipfs"},
		Results: ResultBag{
			AIForensics: &AIForensicsResult{Status: ProviderStatusFailed},
			IPFS:        &IPFSResult{Status: ProviderStatusFailed},
		},
	}

	assert.True(t, req.AllReported())
	assert.True(t, req.AllFailed())

	empty := &Request{}
	assert.False(t, empty.AllFailed())
	assert.Equal(t, 0.0, empty.Progress())
}

func TestResultBagRoundTripsThroughSQL(t *testing.T) {
	bag := ResultBag{
		Blockchain: &BlockchainResult{Status: "confirmed", TxHash: "0xfeed", BlockHeight: 42},
	}

	value, err := bag.Value()
	require.NoError(t, err)

	var scanned ResultBag
	require.NoError(t, scanned.Scan(value))
	require.NotNil(t, scanned.Blockchain)
	assert.Equal(t, "0xfeed", scanned.Blockchain.TxHash)
	assert.Equal(t, int64(42), scanned.Blockchain.BlockHeight)

	var fromNil ResultBag
	require.NoError(t, fromNil.Scan(nil))
	assert.Nil(t, fromNil.AIForensics)
}
