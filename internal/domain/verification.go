package domain

import "time"

// PanelSize is the fixed number of verifiers per goal. It is odd, so a full
// panel can never tie.
const PanelSize = 3

// Panel is the ordered set of verifier addresses for one goal.
type Panel [PanelSize]string

// Index returns the slot of addr in the panel.
func (p Panel) Index(addr string) (int, bool) {
	if addr == "" {
		return 0, false
	}
	for i, v := range p {
		if v == addr {
			return i, true
		}
	}
	return 0, false
}

// Validate checks the panel holds three non-empty, distinct addresses.
func (p Panel) Validate() error {
	seen := make(map[string]struct{}, PanelSize)
	for _, v := range p {
		if v == "" {
			return ErrInvalidVerifierPanel
		}
		if _, dup := seen[v]; dup {
			return ErrInvalidVerifierPanel
		}
		seen[v] = struct{}{}
	}
	return nil
}

// Votes returns how many slots have voted.
func (v Verification) Votes() int {
	n := 0
	for _, cast := range v.VotesCast {
		if cast {
			n++
		}
	}
	return n
}

// QuorumReached reports whether every verifier has voted.
func (v Verification) QuorumReached() bool {
	return v.Votes() == PanelSize
}

// Expired reports whether the voting window has closed at now.
func (v Verification) Expired(now time.Time) bool {
	return !now.Before(v.Deadline)
}

// RecordVote marks the verifier's slot and updates the tally. It returns the
// slot index. The receiver is left untouched on error.
func (v *Verification) RecordVote(verifier string, yes bool) (int, error) {
	slot, ok := v.Verifiers.Index(verifier)
	if !ok {
		return 0, ErrNotAVerifier
	}
	if v.Finalized {
		return 0, ErrAlreadyFinalized
	}
	if v.VotesCast[slot] {
		return 0, ErrAlreadyVoted
	}
	v.VotesCast[slot] = true
	if yes {
		v.YesVotes++
	} else {
		v.NoVotes++
	}
	return slot, nil
}

// Decide computes the outcome a finalize call at now would commit. A full
// panel decides by majority at any time; once the window has closed, the
// votes cast so far decide and a tie (including no votes) is a failure.
func Decide(now time.Time, v Verification) (VerificationResult, error) {
	if v.Finalized {
		return "", ErrAlreadyFinalized
	}
	if !v.QuorumReached() && !v.Expired(now) {
		return "", ErrVerificationNotComplete
	}
	return majority(v.YesVotes, v.NoVotes), nil
}

// Finalize applies Decide to the record.
func (v *Verification) Finalize(now time.Time) (VerificationResult, error) {
	res, err := Decide(now, *v)
	if err != nil {
		return "", err
	}
	v.Finalized = true
	v.Result = &res
	return res, nil
}

func majority(yes, no uint8) VerificationResult {
	if yes > no {
		return ResultSuccess
	}
	return ResultFailure
}
