package server

import (
	"encoding/json"
	"time"

	"bullseye/internal/domain"
	"bullseye/internal/ledger"
)

// Request payloads

type CreateGoalRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Amount      uint64    `json:"amount" doc:"Stake in lamports"`
	Deadline    time.Time `json:"deadline" format:"date-time"`
	FailAction  string    `json:"fail_action" enum:"burn,company_wallet"`
	Verifiers   []string  `json:"verifiers,omitempty" doc:"Three verifier addresses; defaults to the configured panel"`
}

type VoteRequest struct {
	Vote bool `json:"vote"`
}

type DepositRequest struct {
	Lamports uint64 `json:"lamports" minimum:"1"`
}

type DevLoginRequest struct {
	Address string `json:"address"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type BalanceResponse struct {
	Account  string `json:"account"`
	Lamports uint64 `json:"lamports"`
	Units    string `json:"units"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	GoalID     string         `json:"goal_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type SubmitResponse struct {
	Goal         domain.Goal         `json:"goal"`
	Verification domain.Verification `json:"verification"`
}

// VoteActionResponse describes the vote a verifier can cast on an owner's
// active goal.
type VoteActionResponse struct {
	Owner        string              `json:"owner"`
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	Goal         domain.Goal         `json:"goal"`
	Verification domain.Verification `json:"verification"`
	CanVote      bool                `json:"can_vote"`
	Actions      []VoteActionLink    `json:"actions"`
}

type VoteActionLink struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

type paginatedGoals struct {
	Items      []domain.Goal `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		GoalID:     e.GoalID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func balanceResponse(account string, lamports uint64) BalanceResponse {
	return BalanceResponse{Account: account, Lamports: lamports, Units: ledger.FormatUnits(lamports)}
}

func panelFromRequest(in []string) (domain.Panel, error) {
	var p domain.Panel
	if len(in) == 0 {
		return p, nil
	}
	if len(in) != domain.PanelSize {
		return p, domain.ErrInvalidVerifierPanel
	}
	copy(p[:], in)
	return p, nil
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}
