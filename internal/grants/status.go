package grants

import (
	"time"

	"github.com/david/grantmatch/internal/models"
)

// DeriveStatus maps an optional opening/closing date pair to a lifecycle status.
//
//	start in the future            -> upcoming
//	end present and in the future  -> open
//	end present and past           -> closed
//	otherwise                      -> unknown
func DeriveStatus(start, end *time.Time, now time.Time) models.GrantStatus {
	if start != nil && start.After(now) {
		return models.StatusUpcoming
	}
	if end != nil {
		if end.After(now) {
			return models.StatusOpen
		}
		return models.StatusClosed
	}
	return models.StatusUnknown
}

// statusRank orders statuses for display: actionable first, closed last.
func statusRank(s models.GrantStatus) int {
	switch s {
	case models.StatusOpen:
		return 0
	case models.StatusUpcoming:
		return 1
	case models.StatusClosed:
		return 3
	default:
		return 2
	}
}
