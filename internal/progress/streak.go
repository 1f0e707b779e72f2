package progress

import "time"

// Streak tracks consecutive learning days.
type Streak struct {
	Current    int       `json:"current"`
	Longest    int       `json:"longest"`
	TotalDays  int       `json:"total_days"`
	LastActive time.Time `json:"last_active,omitzero"`
}

// Touch records activity at now. Activity on the same calendar day is a
// no-op, the next day extends the streak, and any longer gap restarts it.
func (s Streak) Touch(now time.Time) Streak {
	today := civilDay(now)
	if !s.LastActive.IsZero() {
		gap := int(today.Sub(civilDay(s.LastActive)).Hours() / 24)
		switch {
		case gap <= 0:
			return s
		case gap == 1:
			s.Current++
		default:
			s.Current = 1
		}
	} else {
		s.Current = 1
	}
	s.TotalDays++
	s.Longest = max(s.Longest, s.Current)
	s.LastActive = today
	return s
}

// civilDay strips the clock from t, keeping its calendar date.
func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
