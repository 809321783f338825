package constants

// FailureCause categorizes why a document reached the Error state, or flags a
// degraded-but-successful outcome. Only infrastructural causes are terminal;
// quality causes (LowConfidence, MathMismatch) always reach Ready.
type FailureCause string

const (
	// CauseEngineUnavailable: a recognition or LLM engine could not be
	// reached or initialized after exhausting retries. Transient; retried
	// only by an explicit re-enqueue.
	CauseEngineUnavailable FailureCause = "ENGINE_UNAVAILABLE"

	// CauseLowConfidence is not a failure: the record reaches Ready marked
	// needs_review with its line items cleared.
	CauseLowConfidence FailureCause = "LOW_CONFIDENCE"

	// CauseMathMismatch is not a failure: recorded as a reduced integrity
	// score on the validated record.
	CauseMathMismatch FailureCause = "MATH_MISMATCH"

	// CauseMalformedResponse: the LLM returned unparseable output after all
	// retries. Absorbed by the geometric fallback strategy where possible.
	CauseMalformedResponse FailureCause = "MALFORMED_RESPONSE"

	// CauseTimeout: a stage exceeded its configured budget.
	CauseTimeout FailureCause = "TIMEOUT"

	// CauseCancelled: processing was withdrawn externally. Terminal.
	CauseCancelled FailureCause = "CANCELLED"
)

// Transient reports whether an explicit re-enqueue is worth attempting.
func (c FailureCause) Transient() bool {
	return c == CauseEngineUnavailable || c == CauseTimeout
}
