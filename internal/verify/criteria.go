package verify

import (
	"fmt"
	"strings"
)

// Criteria narrows what a successful result must contain.
// Zero fields are not checked.
type Criteria struct {
	Action   string
	Hostname string
	MinScore float64
}

// Check returns ErrVerificationFailed, wrapped with the reason, when r does
// not satisfy c.
func (r Result) Check(c Criteria) error {
	if !r.Success {
		codes := "none"
		if len(r.ErrorCodes) > 0 {
			codes = strings.Join(r.ErrorCodes, ",")
		}
		return fmt.Errorf("%w: error codes %s", ErrVerificationFailed, codes)
	}
	if c.Action != "" && r.Action != c.Action {
		return fmt.Errorf("%w: action %q, want %q", ErrVerificationFailed, r.Action, c.Action)
	}
	if c.Hostname != "" && !strings.EqualFold(r.Hostname, c.Hostname) {
		return fmt.Errorf("%w: hostname %q, want %q", ErrVerificationFailed, r.Hostname, c.Hostname)
	}
	if c.MinScore > 0 && r.Score < c.MinScore {
		return fmt.Errorf("%w: score %.2f below %.2f", ErrVerificationFailed, r.Score, c.MinScore)
	}
	return nil
}
