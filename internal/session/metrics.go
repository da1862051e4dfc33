package session

// Recorder receives coordinator outcomes. adapter/metrics provides the Prometheus implementation.
type Recorder interface {
	SignIn(outcome string)
	Swap(kind, outcome string)
	ViewerFetch(outcome string)
}

// Outcome labels.
const (
	OutcomeSuccess    = "success"
	OutcomeRejected   = "rejected"
	OutcomeValidation = "validation"
	OutcomeTransport  = "transport"
	OutcomeSuperseded = "superseded"
	OutcomeStale      = "stale"
)

const (
	swapImpersonate   = "impersonate"
	swapUnimpersonate = "unimpersonate"
)

type noopRecorder struct{}

func (noopRecorder) SignIn(string)       {}
func (noopRecorder) Swap(string, string) {}
func (noopRecorder) ViewerFetch(string)  {}

func outcomeOf(err error) string {
	switch classify(err) {
	case errClassNone:
		return OutcomeSuccess
	case errClassRejected:
		return OutcomeRejected
	case errClassValidation:
		return OutcomeValidation
	default:
		return OutcomeTransport
	}
}
