package lifecycle

// Phase is the position of the controller in the job lifecycle
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
	PhasePolling
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSubmitting:
		return "submitting"
	case PhasePolling:
		return "polling"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further automatic transition will happen
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Outcome is the displayable result of a finished job
type Outcome struct {
	Matched bool
	Status  string
	Summary string
	Details []string
}

func (o Outcome) clone() Outcome {
	o.Details = append([]string{}, o.Details...)
	return o
}

// Session is the client-side record of a job
type Session struct {
	JobID    string
	Progress float64
	Active   bool
}

// State is an immutable snapshot of a Controller. Session and Outcome are nil until the
// first submission and a terminal state respectively.
type State struct {
	Phase   Phase
	Session *Session
	Outcome *Outcome
}
