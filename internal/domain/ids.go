package domain

import (
	"strconv"

	"github.com/google/uuid"
)

// GoalAddress derives the goal id from its owner and sequence number, so the
// same pair always names the same goal.
func GoalAddress(owner string, goalNumber uint64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("goal|"+owner+"|"+strconv.FormatUint(goalNumber, 10))).String()
}

// VerificationAddress derives the id of a goal's single verification record.
func VerificationAddress(goalID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("verification|"+goalID)).String()
}
