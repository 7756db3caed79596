package delivery

import "time"

// UserStats are the counters of one user within a cycle.
type UserStats struct {
	UserID      int64  `json:"user_id"`
	Total       int    `json:"total"`
	Filtered    int    `json:"filtered"`
	AlreadySent int    `json:"already_sent"`
	Duplicate   int    `json:"duplicate"`
	Failed      int    `json:"failed"`
	Sent        int    `json:"sent"`
	Deferred    int    `json:"deferred,omitempty"` // left out of a brief summary by the house cap
	Prompted    bool   `json:"prompted,omitempty"`
	AIMode      bool   `json:"ai_mode,omitempty"`
	Error       string `json:"error,omitempty"`
}

// CycleStats summarizes a delivery cycle.
type CycleStats struct {
	RunID       string      `json:"run_id"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
	Options     Options     `json:"options"`
	ActiveUsers int         `json:"active_users"`
	Sent        int         `json:"sent"`
	Failed      int         `json:"failed"`
	Prompted    int         `json:"prompted"`
	UserErrors  int         `json:"user_errors"`
	Error       string      `json:"error,omitempty"`
	Users       []UserStats `json:"users,omitempty"`
}

func (s *CycleStats) add(u UserStats) {
	s.Users = append(s.Users, u)
	s.Sent += u.Sent
	s.Failed += u.Failed
	if u.Prompted {
		s.Prompted++
	}
	if u.Error != "" {
		s.UserErrors++
	}
}

// User returns the stats of one user, if the user was processed.
func (s CycleStats) User(userID int64) (UserStats, bool) {
	for _, u := range s.Users {
		if u.UserID == userID {
			return u, true
		}
	}
	return UserStats{}, false
}
