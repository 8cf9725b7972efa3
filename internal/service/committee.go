package service

import "math"

// RequiredVotes returns how many approvals a committee step needs: percent of
// the role's members, rounded half to even, never less than one.
func RequiredVotes(percent float64, members int) int {
	required := int(math.RoundToEven(percent / 100.0 * float64(members)))
	if required < 1 {
		return 1
	}
	return required
}
