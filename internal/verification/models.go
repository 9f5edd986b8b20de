package verification

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether the status accepts no further writes.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Type string

const (
	TypeAIForensics Type = "ai_forensics"
	TypeBlockchain  Type = "blockchain"
	TypeIPFS        Type = "ipfs"
	TypeManual      Type = "manual"
	TypeHybrid      Type = "hybrid"
)

// ParseType validates a verification type from client input.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeAIForensics, TypeBlockchain, TypeIPFS, TypeManual, TypeHybrid:
		return t, nil
	default:
		return "", NewError(CodeInvalidArgument, "unsupported verification type %q", s)
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// priorityRank orders priorities low → urgent.
var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityNormal: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// ParsePriority validates a priority from client input, defaulting to normal.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	p := Priority(s)
	if _, ok := priorityRank[p]; !ok {
		return "", NewError(CodeInvalidArgument, "unsupported priority %q", s)
	}
	return p, nil
}

// Rank returns the ordering value of a priority.
func (p Priority) Rank() int { return priorityRank[p] }

type Verdict string

const (
	VerdictAuthentic    Verdict = "authentic"
	VerdictSuspicious   Verdict = "suspicious"
	VerdictTampered     Verdict = "tampered"
	VerdictInconclusive Verdict = "inconclusive"
)

// Per-provider partial result statuses.
const (
	ProviderStatusProcessing = "processing"
	ProviderStatusCompleted  = "completed"
	ProviderStatusFailed     = "failed"
)

// Manual review decisions.
const (
	DecisionApproved  = "approved"
	DecisionRejected  = "rejected"
	DecisionNeedsInfo = "needs_info"
)

// AIForensicsResult is the normalized AI-forensics partial result.
// Authenticity and Tampering are 0-100 scores.
type AIForensicsResult struct {
	Status        string                 `json:"status"`
	ProviderJobID string                 `json:"provider_job_id,omitempty"`
	Authenticity  float64                `json:"authenticity"`
	Tampering     float64                `json:"tampering"`
	Details       map[string]interface{} `json:"details,omitempty"`
	ReportedAt    time.Time              `json:"reported_at"`
}

// BlockchainResult is the normalized notarization partial result.
type BlockchainResult struct {
	Status        string     `json:"status"` // confirmed | failed | processing
	ProviderJobID string     `json:"provider_job_id,omitempty"`
	TxHash        string     `json:"tx_hash,omitempty"`
	BlockHeight   int64      `json:"block_height,omitempty"`
	NotarizedAt   *time.Time `json:"notarized_at,omitempty"`
}

// IPFSResult is the normalized pinning partial result.
type IPFSResult struct {
	Status     string `json:"status"`
	Pinned     bool   `json:"pinned"`
	CID        string `json:"cid,omitempty"`
	GatewayURL string `json:"gateway_url,omitempty"`
}

// ManualResult is the normalized human-review partial result.
type ManualResult struct {
	Status     string `json:"status"`
	Decision   string `json:"decision,omitempty"` // approved | rejected | needs_info
	ReviewerID string `json:"reviewer_id,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// ResultBag holds the per-provider partial results. Merging never replaces
// unrelated provider fields.
type ResultBag struct {
	AIForensics *AIForensicsResult `json:"ai_forensics,omitempty"`
	Blockchain  *BlockchainResult  `json:"blockchain,omitempty"`
	IPFS        *IPFSResult        `json:"ipfs,omitempty"`
	Manual      *ManualResult      `json:"manual,omitempty"`
}

// Value implements driver.Valuer so the bag persists as jsonb.
func (b ResultBag) Value() (driver.Value, error) {
	return json.Marshal(b)
}

// Scan implements sql.Scanner.
func (b *ResultBag) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*b = ResultBag{}
		return nil
	case []byte:
		return json.Unmarshal(v, b)
	case string:
		return json.Unmarshal([]byte(v), b)
	default:
		return fmt.Errorf("unsupported results type %T", src)
	}
}

// statusFor returns the recorded partial status for a provider type.
func (b *ResultBag) statusFor(t Type) string {
	switch t {
	case TypeAIForensics:
		if b.AIForensics != nil {
			return b.AIForensics.Status
		}
	case TypeBlockchain:
		if b.Blockchain != nil {
			return b.Blockchain.Status
		}
	case TypeIPFS:
		if b.IPFS != nil {
			return b.IPFS.Status
		}
	case TypeManual:
		if b.Manual != nil {
			return b.Manual.Status
		}
	}
	return ""
}

// Reported reports whether a provider has delivered a terminal partial result.
// A confirmed blockchain notarization is terminal.
func (b *ResultBag) Reported(t Type) bool {
	switch s := b.statusFor(t); s {
	case ProviderStatusCompleted, ProviderStatusFailed, "confirmed":
		return true
	}
	return false
}

// Merge applies the set fields of other on top of the bag.
func (b *ResultBag) Merge(other ResultBag) {
	if other.AIForensics != nil {
		b.AIForensics = other.AIForensics
	}
	if other.Blockchain != nil {
		b.Blockchain = other.Blockchain
	}
	if other.IPFS != nil {
		b.IPFS = other.IPFS
	}
	if other.Manual != nil {
		b.Manual = other.Manual
	}
}

// OverallResult is the aggregated verdict derived by the scoring engine.
type OverallResult struct {
	Score           float64  `json:"score"`
	Verdict         Verdict  `json:"verdict"`
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations"`
}

// Value implements driver.Valuer.
func (o OverallResult) Value() (driver.Value, error) {
	return json.Marshal(o)
}

// Scan implements sql.Scanner.
func (o *OverallResult) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, o)
	case string:
		return json.Unmarshal([]byte(v), o)
	default:
		return fmt.Errorf("unsupported overall type %T", src)
	}
}

// Request is the central verification entity. Rows are never deleted;
// terminal states are retained for audit and analytics.
type Request struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	DocumentID     uuid.UUID  `json:"document_id" db:"document_id"`
	RequesterID    uuid.UUID  `json:"requester_id" db:"requester_id"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty" db:"organization_id"`
	Type           Type       `json:"type" db:"type"`
	Priority       Priority   `json:"priority" db:"priority"`
	Status         Status     `json:"status" db:"status"`

	Results ResultBag      `json:"results" db:"results"`
	Overall *OverallResult `json:"overall,omitempty" db:"overall"`

	// ExternalJobID correlates provider webhooks back to this request.
	// Unique across non-terminal requests when set.
	ExternalJobID     *string        `json:"external_job_id,omitempty" db:"external_job_id"`
	ExpectedProviders pq.StringArray `json:"expected_providers" db:"expected_providers"`

	RequestedBy   string         `json:"requested_by" db:"requested_by"`
	RetryCount    int            `json:"retry_count" db:"retry_count"`
	NextRetryAt   *time.Time     `json:"next_retry_at,omitempty" db:"next_retry_at"`
	ErrorMessages pq.StringArray `json:"error_messages" db:"error_messages"`
	WebhookURL    *string        `json:"webhook_url,omitempty" db:"webhook_url"`
	// CallbackData is opaque caller state, echoed back on the caller webhook.
	// Excluded from JSON and from logs.
	CallbackData json.RawMessage `json:"-" db:"callback_data"`

	RequestedAt time.Time  `json:"requested_at" db:"requested_at"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
}

// ExpectedTypes returns the provider set this request fans out to.
func (r *Request) ExpectedTypes() []Type {
	types := make([]Type, 0, len(r.ExpectedProviders))
	for _, p := range r.ExpectedProviders {
		types = append(types, Type(p))
	}
	return types
}

// Progress is the fraction of expected providers that have reported a
// terminal partial result.
func (r *Request) Progress() float64 {
	expected := r.ExpectedTypes()
	if len(expected) == 0 {
		return 0
	}
	reported := 0
	for _, t := range expected {
		if r.Results.Reported(t) {
			reported++
		}
	}
	return float64(reported) / float64(len(expected))
}

// AllReported reports whether every expected provider has a terminal partial.
func (r *Request) AllReported() bool {
	for _, t := range r.ExpectedTypes() {
		if !r.Results.Reported(t) {
			return false
		}
	}
	return true
}

// AllFailed reports whether every expected provider reported failure.
func (r *Request) AllFailed() bool {
	for _, t := range r.ExpectedTypes() {
		if r.Results.statusFor(t) != ProviderStatusFailed {
			return false
		}
	}
	return len(r.ExpectedProviders) > 0
}

// StatusView is the GetStatus projection.
type StatusView struct {
	ID       uuid.UUID      `json:"id"`
	Status   Status         `json:"status"`
	Progress float64        `json:"progress"`
	Results  ResultBag      `json:"results"`
	Overall  *OverallResult `json:"overall,omitempty"`
	Error    string         `json:"error,omitempty"`
}
