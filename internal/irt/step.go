package irt

import (
	"math"

	"golang.org/x/sync/errgroup"
)

// minDeterminant guards the 2x2 Fisher information inversion.
const minDeterminant = 1e-10

// Quadrature grid for the ability distribution: equally spaced nodes on
// [-quadRange, quadRange] weighted by the standard normal density.
const (
	quadPoints = 41
	quadRange  = 5.0
)

// mStepIterations bounds the Fisher-scoring updates per item per Step.
const mStepIterations = 10

var quadNodes, quadLogWeights = quadrature()

func quadrature() ([]float64, []float64) {
	nodes := make([]float64, quadPoints)
	logW := make([]float64, quadPoints)
	var total float64
	for k := range nodes {
		x := -quadRange + 2*quadRange*float64(k)/float64(quadPoints-1)
		nodes[k] = x
		total += math.Exp(-x * x / 2)
	}
	for k, x := range nodes {
		logW[k] = -x*x/2 - math.Log(total)
	}
	return nodes, logW
}

// itemKind records whether an item's parameters can be estimated.
type itemKind int8

const (
	itemFree itemKind = iota
	itemAllCorrect
	itemAllIncorrect
	itemUnobserved
)

// State is the fold accumulator: every parameter after some iteration.
// Step never modifies its input State.
type State struct {
	Iteration int

	// Theta is the posterior mean ability (the proportion-correct start
	// value in the initial State); ThetaSE its posterior standard deviation.
	Theta   []float64
	ThetaSE []float64
	A       []float64
	B       []float64

	// Last absolute update per student and per item (max of |Δa|, |Δb|).
	ThetaChange []float64
	ItemChange  []float64
	// Floored marks items whose discrimination fit went non-positive in
	// the last step and was replaced by the floor.
	Floored []bool

	MaxChange float64
	// LogLikelihood is the marginal log-likelihood of A and B, with
	// ability integrated out over the quadrature grid.
	LogLikelihood float64

	kinds       []itemKind
	thetaActive []bool      // student has at least one observation on a free item
	post        [][]float64 // posterior weight of each quadrature node per active student
}

// Init builds the starting State: θ from the logit of each student's clipped
// proportion correct (standardised), a = 1 and b = 0 for free items, and
// boundary values for degenerate ones.
func Init(m *Matrix, cfg Config) *State {
	cfg = cfg.withDefaults()
	m.index()

	nS, nI := m.NumStudents(), m.NumItems()
	st := &State{
		Theta:       make([]float64, nS),
		ThetaSE:     make([]float64, nS),
		A:           make([]float64, nI),
		B:           make([]float64, nI),
		ThetaChange: make([]float64, nS),
		ItemChange:  make([]float64, nI),
		Floored:     make([]bool, nI),
		kinds:       make([]itemKind, nI),
		thetaActive: make([]bool, nS),
	}

	for i := range st.A {
		observed, correct := m.ItemCounts(i)
		st.A[i] = 1
		switch {
		case observed == 0:
			st.kinds[i] = itemUnobserved
		case correct == observed:
			st.kinds[i] = itemAllCorrect
			st.B[i] = -cfg.Bound
		case correct == 0:
			st.kinds[i] = itemAllIncorrect
			st.B[i] = cfg.Bound
		}
	}

	for s := range st.Theta {
		observed, correct := m.StudentCounts(s)
		for _, o := range m.byStudent[s] {
			if st.kinds[o.idx] == itemFree {
				st.thetaActive[s] = true
				break
			}
		}
		if observed == 0 {
			continue
		}
		p := clamp(float64(correct)/float64(observed), cfg.ProportionClip, 1-cfg.ProportionClip)
		st.Theta[s] = logit(p)
	}
	standardize(st.Theta, st.thetaActive, cfg.Bound)

	var sd []float64
	st.post, _, sd, st.LogLikelihood = expectation(m, st.A, st.B, st.kinds, st.thetaActive, cfg.Workers)
	for s := range st.ThetaSE {
		if st.thetaActive[s] {
			st.ThetaSE[s] = sd[s]
		}
	}
	return st
}

// Step runs one Bock-Aitkin EM cycle. The item sub-step maximises every
// free item's expected log-likelihood under the abilities' posterior held
// in prev (Fisher scoring on (a, b), independent per item). The ability
// sub-step then recomputes each student's posterior over the quadrature
// grid under the new item parameters (independent per student) and reports
// its mean as θ. Missing cells appear in neither sum. It is a pure function
// of its inputs.
func Step(prev *State, m *Matrix, cfg Config) *State {
	cfg = cfg.withDefaults()
	m.index()

	next := prev.clone()
	next.Iteration = prev.Iteration + 1

	// (b) items, holding the ability posterior fixed.
	parallelFor(len(next.A), cfg.Workers, func(i int) {
		next.Floored[i] = false
		if next.kinds[i] != itemFree {
			next.ItemChange[i] = 0
			return
		}
		n, r := expectedCounts(m.byItem[i], prev.post)
		a, b, floored := itemUpdate(n, r, prev.A[i], prev.B[i], cfg)
		next.A[i], next.B[i], next.Floored[i] = a, b, floored
		next.ItemChange[i] = math.Max(math.Abs(a-prev.A[i]), math.Abs(b-prev.B[i]))
	})

	// (a) abilities, holding the new items fixed.
	post, eap, sd, ll := expectation(m, next.A, next.B, next.kinds, next.thetaActive, cfg.Workers)
	next.post, next.LogLikelihood = post, ll

	next.MaxChange = 0
	for s := range next.Theta {
		if next.thetaActive[s] {
			next.Theta[s] = clamp(eap[s], -cfg.Bound, cfg.Bound)
			next.ThetaSE[s] = sd[s]
		}
		next.ThetaChange[s] = math.Abs(next.Theta[s] - prev.Theta[s])
		next.MaxChange = math.Max(next.MaxChange, next.ThetaChange[s])
	}
	for _, d := range next.ItemChange {
		next.MaxChange = math.Max(next.MaxChange, d)
	}
	return next
}

// expectation computes, for every active student, the posterior over the
// quadrature nodes given the free items' parameters, its mean and standard
// deviation, and the total marginal log-likelihood.
func expectation(m *Matrix, a, b []float64, kinds []itemKind, active []bool, workers int) (post [][]float64, eap, sd []float64, ll float64) {
	nS, nI := len(active), len(a)

	logP := make([][]float64, nI)
	logQ := make([][]float64, nI)
	parallelFor(nI, workers, func(i int) {
		if kinds[i] != itemFree {
			return
		}
		logP[i] = make([]float64, quadPoints)
		logQ[i] = make([]float64, quadPoints)
		for k, x := range quadNodes {
			z := a[i] * (x - b[i])
			logP[i][k] = logSigmoid(z)
			logQ[i][k] = logSigmoid(-z)
		}
	})

	post = make([][]float64, nS)
	eap = make([]float64, nS)
	sd = make([]float64, nS)
	perStudent := make([]float64, nS)
	parallelFor(nS, workers, func(s int) {
		if !active[s] {
			return
		}
		w := make([]float64, quadPoints)
		copy(w, quadLogWeights)
		for _, o := range m.byStudent[s] {
			if kinds[o.idx] != itemFree {
				continue
			}
			table := logQ[o.idx]
			if o.x == 1 {
				table = logP[o.idx]
			}
			for k := range w {
				w[k] += table[k]
			}
		}

		peak := w[0]
		for _, v := range w[1:] {
			peak = math.Max(peak, v)
		}
		var total float64
		for k, v := range w {
			w[k] = math.Exp(v - peak)
			total += w[k]
		}
		var mean, sq float64
		for k, x := range quadNodes {
			w[k] /= total
			mean += w[k] * x
			sq += w[k] * x * x
		}
		post[s] = w
		eap[s] = mean
		sd[s] = math.Sqrt(math.Max(0, sq-mean*mean))
		perStudent[s] = peak + math.Log(total)
	})

	for _, v := range perStudent {
		ll += v
	}
	return post, eap, sd, ll
}

// expectedCounts returns, per quadrature node, the expected number of
// students who answered the item (n) and answered it correctly (r).
func expectedCounts(observed []obs, post [][]float64) (n, r []float64) {
	n = make([]float64, quadPoints)
	r = make([]float64, quadPoints)
	for _, o := range observed {
		w := post[o.idx]
		if w == nil {
			continue
		}
		for k, v := range w {
			n[k] += v
			if o.x == 1 {
				r[k] += v
			}
		}
	}
	return n, r
}

func itemUpdate(n, r []float64, a, b float64, cfg Config) (float64, float64, bool) {
	for range mStepIterations {
		iaa, ibb, iab, ga, gb := itemFisher(n, r, a, b)
		det := iaa*ibb - iab*iab
		if det < minDeterminant {
			return a, b, false
		}

		da := capStep((ibb*ga-iab*gb)/det, cfg.MaxStep)
		db := capStep((-iab*ga+iaa*gb)/det, cfg.MaxStep)

		newA := a + da
		newB := clamp(b+db, -cfg.Bound, cfg.Bound)
		if newA <= 0 {
			return cfg.MinDiscrimination, newB, true
		}
		newA = clamp(newA, cfg.MinDiscrimination, cfg.MaxDiscrimination)
		done := math.Abs(newA-a) < cfg.Tolerance/10 && math.Abs(newB-b) < cfg.Tolerance/10
		a, b = newA, newB
		if done {
			break
		}
	}
	return a, b, false
}

// itemFisher returns the expected information matrix entries and the
// score vector for one item from its expected counts per quadrature node.
func itemFisher(n, r []float64, a, b float64) (iaa, ibb, iab, ga, gb float64) {
	var sumW, sumWd, sumWdd, sumR, sumRd float64
	for k, x := range quadNodes {
		if n[k] == 0 {
			continue
		}
		d := x - b
		p := Probability(x, a, b)
		w := n[k] * p * (1 - p)
		res := r[k] - n[k]*p
		sumW += w
		sumWd += w * d
		sumWdd += w * d * d
		sumR += res
		sumRd += res * d
	}
	return sumWdd, a * a * sumW, -a * sumWd, sumRd, -a * sumR
}

// standardize rescales the active abilities to mean 0 and unit variance,
// then clips them to the bound.
func standardize(theta []float64, active []bool, bound float64) {
	var n, sum float64
	for s, th := range theta {
		if active[s] {
			sum += th
			n++
		}
	}
	if n == 0 {
		return
	}
	mean := sum / n

	var ss float64
	for s, th := range theta {
		if active[s] {
			ss += (th - mean) * (th - mean)
		}
	}
	sd := math.Sqrt(ss / n)
	if sd < 1e-12 {
		sd = 1
	}
	for s := range theta {
		if active[s] {
			theta[s] = clamp((theta[s]-mean)/sd, -bound, bound)
		}
	}
}

func (s *State) clone() *State {
	return &State{
		Iteration:     s.Iteration,
		Theta:         append([]float64(nil), s.Theta...),
		ThetaSE:       append([]float64(nil), s.ThetaSE...),
		A:             append([]float64(nil), s.A...),
		B:             append([]float64(nil), s.B...),
		ThetaChange:   append([]float64(nil), s.ThetaChange...),
		ItemChange:    append([]float64(nil), s.ItemChange...),
		Floored:       append([]bool(nil), s.Floored...),
		MaxChange:     s.MaxChange,
		LogLikelihood: s.LogLikelihood,
		kinds:         s.kinds,
		thetaActive:   s.thetaActive,
		post:          s.post,
	}
}

// parallelFor runs fn(i) for i in [0, n) on up to workers goroutines. Each
// index is handled by exactly one goroutine.
func parallelFor(n, workers int, fn func(i int)) {
	if n == 0 {
		return
	}
	if workers <= 1 || n < 64 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	chunk := (n + workers*4 - 1) / (workers * 4)
	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				fn(i)
			}
			return nil
		})
	}
	_ = g.Wait()
}
