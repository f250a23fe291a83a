// Package auth holds the caller checks shared by engine operations. Callers
// are addresses resolved by the transport (CLI signer flag or HTTP principal).
package auth

import (
	"strings"

	"bullseye/internal/domain"
)

// RequireSigner rejects operations that arrive without a caller address.
func RequireSigner(caller string) error {
	if strings.TrimSpace(caller) == "" {
		return domain.ErrUnauthorized
	}
	return nil
}

// RequireOwner allows only the goal's creator.
func RequireOwner(g domain.Goal, caller string) error {
	if err := RequireSigner(caller); err != nil {
		return err
	}
	if g.Owner != caller {
		return domain.ErrUnauthorized
	}
	return nil
}
