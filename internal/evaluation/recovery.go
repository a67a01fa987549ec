package evaluation

import (
	"math"

	"github.com/abhisek/misconcept/internal/errs"
	"github.com/abhisek/misconcept/internal/irt"
)

// Recovery compares generating values with their estimates.
type Recovery struct {
	N           int     `json:"n"`
	Bias        float64 `json:"bias"`
	RMSE        float64 `json:"rmse"`
	MaxAbsError float64 `json:"max_abs_error"`
	Correlation float64 `json:"correlation"`
}

// ParameterRecovery reports bias (mean of estimate − truth), RMSE, the
// largest absolute error and the Pearson correlation.
func ParameterRecovery(truth, estimate []float64) (Recovery, error) {
	if len(truth) != len(estimate) {
		return Recovery{}, errs.DimensionMismatch("estimates", -1, len(truth), len(estimate))
	}
	n := len(truth)
	if n == 0 {
		return Recovery{}, nil
	}

	var sumErr, sumSq, maxAbs float64
	var mt, me float64
	for i := range truth {
		d := estimate[i] - truth[i]
		sumErr += d
		sumSq += d * d
		maxAbs = math.Max(maxAbs, math.Abs(d))
		mt += truth[i]
		me += estimate[i]
	}
	mt /= float64(n)
	me /= float64(n)

	var cov, vt, ve float64
	for i := range truth {
		cov += (truth[i] - mt) * (estimate[i] - me)
		vt += (truth[i] - mt) * (truth[i] - mt)
		ve += (estimate[i] - me) * (estimate[i] - me)
	}
	corr := 0.0
	if vt > 0 && ve > 0 {
		corr = cov / math.Sqrt(vt*ve)
	}

	return Recovery{
		N:           n,
		Bias:        sumErr / float64(n),
		RMSE:        math.Sqrt(sumSq / float64(n)),
		MaxAbsError: maxAbs,
		Correlation: corr,
	}, nil
}

// CalibrationRecovery is ParameterRecovery for a full calibration against
// simulated truth. Only identifiable items are compared.
type CalibrationRecovery struct {
	Discrimination Recovery `json:"discrimination"`
	Difficulty     Recovery `json:"difficulty"`
	Ability        Recovery `json:"ability"`
}

// RecoverCalibration compares cal with the parameters that generated it.
func RecoverCalibration(cal *irt.Calibration, truth *irt.TrueParameters) (*CalibrationRecovery, error) {
	if len(cal.Items) != len(truth.A) {
		return nil, errs.DimensionMismatch("calibrated items", -1, len(truth.A), len(cal.Items))
	}
	if len(cal.Abilities) != len(truth.Theta) {
		return nil, errs.DimensionMismatch("calibrated abilities", -1, len(truth.Theta), len(cal.Abilities))
	}

	var ta, ea, tb, eb []float64
	for i, it := range cal.Items {
		if !it.Identifiable {
			continue
		}
		ta = append(ta, truth.A[i])
		ea = append(ea, it.Discrimination)
		tb = append(tb, truth.B[i])
		eb = append(eb, it.Difficulty)
	}
	th := make([]float64, len(cal.Abilities))
	for s, est := range cal.Abilities {
		th[s] = est.Theta
	}

	out := &CalibrationRecovery{}
	var err error
	if out.Discrimination, err = ParameterRecovery(ta, ea); err != nil {
		return nil, err
	}
	if out.Difficulty, err = ParameterRecovery(tb, eb); err != nil {
		return nil, err
	}
	if out.Ability, err = ParameterRecovery(truth.Theta, th); err != nil {
		return nil, err
	}
	return out, nil
}
