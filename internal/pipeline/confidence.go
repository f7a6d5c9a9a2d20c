package pipeline

import "github.com/jackzampolin/scoreshelf/internal/session"

// Confidence penalties, in points off the model's self-reported score.
const (
	penaltyDroppedRange = 15
	penaltyUnknownPart  = 5
	penaltyNoTitle      = 20
	// penaltyCoverage is scaled by the uncovered fraction of the document.
	penaltyCoverage = 20
)

// Evidence is what the pipeline observed about an extraction, independent of
// what the model claimed.
type Evidence struct {
	Reported     int
	Dropped      int
	Unknown      int
	MissingTitle bool
	CoveredPages int
	PageCount    int
}

// Score adjusts the reported confidence by the observed evidence and
// clamps it to 0-100. Coverage gaps cost up to penaltyCoverage points,
// rounded up so that any gap costs at least one.
func Score(e Evidence) int {
	score := e.Reported
	score -= penaltyDroppedRange * e.Dropped
	score -= penaltyUnknownPart * e.Unknown
	if e.MissingTitle {
		score -= penaltyNoTitle
	}
	if e.PageCount > 0 && e.CoveredPages < e.PageCount {
		uncovered := e.PageCount - e.CoveredPages
		score -= (penaltyCoverage*uncovered + e.PageCount - 1) / e.PageCount
	}
	return session.ClampConfidence(score)
}
