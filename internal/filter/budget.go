package filter

// Default per-user, per-cycle limits on diagnostic log lines.
const (
	DefaultMaxFilteredLogs = 20
	DefaultMaxPassedLogs   = 10
)

// LogBudget caps how many accept/reject decisions are logged per user within
// one delivery cycle. A cycle owns one budget and drops it when done.
// It is not safe for concurrent use.
type LogBudget struct {
	maxFiltered int
	maxPassed   int
	users       map[int64]*logCounter
}

type logCounter struct {
	filtered int
	passed   int
	widened  widening
}

// widening records which self-healing corrections were already reported.
type widening uint8

const (
	widenRooms widening = 1 << iota
	widenPrice
)

// NewLogBudget creates a budget with the given per-user limits.
func NewLogBudget(maxFiltered, maxPassed int) *LogBudget {
	return &LogBudget{
		maxFiltered: maxFiltered,
		maxPassed:   maxPassed,
		users:       make(map[int64]*logCounter),
	}
}

// Counts returns how many rejections and acceptances were logged for a user.
func (b *LogBudget) Counts(userID int64) (filtered, passed int) {
	if b == nil {
		return 0, 0
	}
	c, ok := b.users[userID]
	if !ok {
		return 0, 0
	}
	return c.filtered, c.passed
}

func (b *LogBudget) counter(userID int64) *logCounter {
	c, ok := b.users[userID]
	if !ok {
		c = &logCounter{}
		b.users[userID] = c
	}
	return c
}

func (b *LogBudget) allowFiltered(userID int64) bool {
	if b == nil || userID == 0 {
		return false
	}
	c := b.counter(userID)
	if c.filtered >= b.maxFiltered {
		return false
	}
	c.filtered++
	return true
}

func (b *LogBudget) allowPassed(userID int64) bool {
	if b == nil || userID == 0 {
		return false
	}
	c := b.counter(userID)
	if c.passed >= b.maxPassed {
		return false
	}
	c.passed++
	return true
}

// firstWidening reports whether a self-healing correction of the given kind
// has not been logged for the user yet, and marks it as logged.
func (b *LogBudget) firstWidening(userID int64, kind widening) bool {
	if b == nil {
		return true
	}
	c := b.counter(userID)
	if c.widened&kind != 0 {
		return false
	}
	c.widened |= kind
	return true
}
