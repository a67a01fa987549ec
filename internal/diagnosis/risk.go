package diagnosis

// Severity is the presentation bucket for a misconception risk.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
)

const (
	riskFloor   = 0.2
	unknownRisk = 0.4
	unseenFloor = 0.5
)

// riskRules maps each label kind to its risk from classifier confidence.
var riskRules = map[LabelKind]func(confidence float64) float64{
	LabelKnown: func(confidence float64) float64 {
		return max(riskFloor, 1-confidence)
	},
	LabelUnknown: func(float64) float64 {
		return unknownRisk
	},
	LabelUnseen: func(confidence float64) float64 {
		return max(unseenFloor, 1-confidence)
	},
}

// severityBands are checked in order; the first band whose upper bound
// exceeds the risk wins.
var severityBands = []struct {
	below    float64
	severity Severity
}{
	{0.35, SeverityLow},
	{0.6, SeverityModerate},
	{1.01, SeverityHigh},
}

// Risk derives a [0,1] misconception risk from a classification.
func Risk(r Result) float64 {
	rule, ok := riskRules[r.Kind]
	if !ok {
		rule = riskRules[LabelUnknown]
	}
	return min(1, max(0, rule(r.Confidence)))
}

// SeverityOf buckets a risk value.
func SeverityOf(risk float64) Severity {
	for _, b := range severityBands {
		if risk < b.below {
			return b.severity
		}
	}
	return SeverityHigh
}
