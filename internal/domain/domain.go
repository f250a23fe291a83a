package domain

import "time"

const (
	LamportsPerUnit uint64 = 1_000_000_000

	// MinStake and MaxStake bound Goal.Amount (0.1 and 10 units).
	MinStake = LamportsPerUnit / 10
	MaxStake = 10 * LamportsPerUnit

	MaxTitleLen       = 100
	MaxDescriptionLen = 500

	DefaultVerificationWindow = 24 * time.Hour

	// BurnAddress is the incinerator; nothing can spend from it.
	BurnAddress          = "1nc1nerator11111111111111111111111111111111"
	DefaultCompanyWallet = "AR8rRkMAcYRpeFZLJeTz5vbGMFy5yrMqNEoEewoGW7hR"
)

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalSubmitted GoalStatus = "submitted"
	GoalClaimed   GoalStatus = "claimed"
	GoalFailed    GoalStatus = "failed"
)

// Open reports whether the goal still holds its owner's active slot.
func (s GoalStatus) Open() bool {
	return s == GoalActive || s == GoalSubmitted
}

func (s GoalStatus) Terminal() bool {
	return s == GoalClaimed || s == GoalFailed
}

func (s GoalStatus) Valid() bool {
	return s.Open() || s.Terminal()
}

type FailAction string

const (
	FailBurn          FailAction = "burn"
	FailCompanyWallet FailAction = "company_wallet"
)

func (a FailAction) Valid() bool {
	switch a {
	case FailBurn, FailCompanyWallet:
		return true
	}
	return false
}

type VerificationResult string

const (
	ResultSuccess VerificationResult = "success"
	ResultFailure VerificationResult = "failure"
)

type Goal struct {
	ID             string     `json:"id"`
	Owner          string     `json:"owner"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Amount         uint64     `json:"amount"`
	Deadline       time.Time  `json:"deadline" format:"date-time"`
	FailAction     FailAction `json:"fail_action" enum:"burn,company_wallet"`
	Status         GoalStatus `json:"status" enum:"active,submitted,claimed,failed"`
	Verifiers      Panel      `json:"verifiers"`
	VerificationID string     `json:"verification,omitempty"`
	CreatedAt      time.Time  `json:"created_at" format:"date-time"`
	GoalNumber     uint64     `json:"goal_number"`
}

type GoalCounter struct {
	Owner      string    `json:"owner"`
	Count      uint64    `json:"count"`
	ActiveGoal *uint64   `json:"active_goal,omitempty"`
	CreatedAt  time.Time `json:"created_at" format:"date-time"`
}

type Verification struct {
	ID        string              `json:"id"`
	GoalID    string              `json:"goal"`
	Verifiers Panel               `json:"verifiers"`
	YesVotes  uint8               `json:"yes_votes"`
	NoVotes   uint8               `json:"no_votes"`
	VotesCast [PanelSize]bool     `json:"votes_cast"`
	Finalized bool                `json:"finalized"`
	Result    *VerificationResult `json:"result,omitempty" enum:"success,failure"`
	Deadline  time.Time           `json:"verification_deadline" format:"date-time"`
	CreatedAt time.Time           `json:"created_at" format:"date-time"`
}

// Event is a row of the append-only notification log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	GoalID     string `json:"goal_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

const (
	EventCounterInitialized    = "CounterInitialized"
	EventGoalCreated           = "GoalCreated"
	EventGoalSubmitted         = "GoalSubmitted"
	EventVoteCast              = "VoteCast"
	EventVerificationFinalized = "VerificationFinalized"
	EventFundsClaimed          = "FundsClaimed"
	EventFundsBurned           = "FundsBurned"
	EventFundsSentToCompany    = "FundsSentToCompany"
	EventFundsDeposited        = "FundsDeposited"
)

type APIKey struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// EscrowAccount is the custody account holding a goal's locked stake.
func EscrowAccount(goalID string) string {
	return "escrow:" + goalID
}
