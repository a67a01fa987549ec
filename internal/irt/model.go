package irt

import "math"

// Probability is the 2PL probability of a correct response for ability
// theta on an item with discrimination a and difficulty b.
func Probability(theta, a, b float64) float64 {
	return 1 / (1 + math.Exp(-a*(theta-b)))
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func capStep(d, maxStep float64) float64 {
	if maxStep <= 0 {
		return d
	}
	return clamp(d, -maxStep, maxStep)
}

// logSigmoid is log(1/(1+exp(-z))) without overflow for large |z|.
func logSigmoid(z float64) float64 {
	if z >= 0 {
		return -math.Log1p(math.Exp(-z))
	}
	return z - math.Log1p(math.Exp(z))
}
