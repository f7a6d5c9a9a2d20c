package session

// Thresholds drive routing. Both are confidence scores on a 0-100 scale.
type Thresholds struct {
	AutoApprove int `json:"autoApprove"`
	SecondPass  int `json:"secondPass"`
}

// DefaultThresholds are used when settings are absent.
var DefaultThresholds = Thresholds{AutoApprove: 90, SecondPass: 40}

// Outcome summarizes a finished extraction for routing.
type Outcome struct {
	Confidence  int
	PartCount   int
	ParseFailed bool
}

// Route picks where a freshly parsed session goes next.
func Route(o Outcome, t Thresholds) RoutingDecision {
	switch {
	case o.PartCount > 0 && !o.ParseFailed && o.Confidence >= t.AutoApprove:
		return RouteAutoApprove
	case o.PartCount == 0, o.ParseFailed && o.Confidence < t.SecondPass:
		return RouteNoParseSecondPass
	case o.Confidence < t.SecondPass:
		return RouteLowConfidenceSecondPass
	}
	return RouteManualReview
}

// RouteVerified picks where a session goes after a completed second pass.
// Verification never triggers another second pass.
func RouteVerified(o Outcome, t Thresholds) RoutingDecision {
	if o.PartCount > 0 && !o.ParseFailed && o.Confidence >= t.AutoApprove {
		return RouteAutoApprove
	}
	return RouteManualReview
}

// WantsSecondPass reports whether the decision asks for verification.
func (d RoutingDecision) WantsSecondPass() bool {
	return d == RouteNoParseSecondPass || d == RouteLowConfidenceSecondPass
}

// ClampConfidence forces c into 0-100.
func ClampConfidence(c int) int {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	}
	return c
}
