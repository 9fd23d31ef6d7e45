package stats

import (
	"fmt"
	"math"
)

// TailTest selects the alternative hypothesis of a significance test.
//
// Greater tests for a positive statistic (mean of A above mean of B, positive
// correlation) and uses the upper tail P(T >= t). Less uses the lower tail
// P(T <= t). TwoTailed doubles the smaller tail.
type TailTest int

const (
	TwoTailed TailTest = iota
	Greater
	Less
)

func (t TailTest) String() string {
	switch t {
	case TwoTailed:
		return "two-tailed"
	case Greater:
		return "greater"
	case Less:
		return "less"
	}
	return fmt.Sprintf("TailTest(%d)", int(t))
}

func (t TailTest) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TailTest) UnmarshalText(text []byte) error {
	switch string(text) {
	case "two-tailed", "both":
		*t = TwoTailed
	case "greater", "right":
		*t = Greater
	case "less", "left":
		*t = Less
	default:
		return fmt.Errorf("unknown tail test %q", text)
	}
	return nil
}

// EqualVariance selects between Student's pooled-variance t-test (Yes) and
// Welch's unequal-variance t-test (No).
type EqualVariance bool

const (
	No  EqualVariance = false
	Yes EqualVariance = true
)

const (
	incBetaMaxIterations = 200
	incBetaStop          = 1.0e-8
	incBetaTiny          = 1.0e-30
)

// IncompleteBeta evaluates the regularized incomplete beta function I_x(a, b)
// with Lentz's continued fraction. For x > (a+1)/(a+b+2) the symmetry
// I_x(a,b) = 1 - I_{1-x}(b,a) is used so the fraction converges quickly.
// Values of x outside [0, 1], or a fraction that does not converge within 200
// iterations, give 1.
func IncompleteBeta(a, b, x float64) float64 {
	if x < 0 || x > 1 {
		return 1
	}
	if x > (a+1)/(a+b+2) {
		return 1 - IncompleteBeta(b, a, 1-x)
	}

	la, _ := math.Lgamma(a)
	lb, _ := math.Lgamma(b)
	lab, _ := math.Lgamma(a + b)
	front := math.Exp(math.Log(x)*a+math.Log(1-x)*b-(la+lb-lab)) / a

	f, c, d := 1.0, 1.0, 0.0
	for i := 0; i <= incBetaMaxIterations; i++ {
		m := float64(i / 2)

		var numerator float64
		switch {
		case i == 0:
			numerator = 1
		case i%2 == 0:
			numerator = (m * (b - m) * x) / ((a + 2*m - 1) * (a + 2*m))
		default:
			numerator = -((a + m) * (a + b + m) * x) / ((a + 2*m) * (a + 2*m + 1))
		}

		d = 1 + numerator*d
		if math.Abs(d) < incBetaTiny {
			d = incBetaTiny
		}
		d = 1 / d

		c = 1 + numerator/c
		if math.Abs(c) < incBetaTiny {
			c = incBetaTiny
		}

		cd := c * d
		f *= cd
		if math.Abs(1-cd) < incBetaStop {
			return front * (f - 1)
		}
	}
	return 1
}

// StudentTCDF returns P(T <= t) for Student's t distribution with df degrees
// of freedom.
func StudentTCDF(t, df float64) float64 {
	switch {
	case math.IsInf(t, 1):
		return 1
	case math.IsInf(t, -1):
		return 0
	}
	s := math.Sqrt(t*t + df)
	x := (t + s) / (2 * s)
	return IncompleteBeta(df/2, df/2, x)
}

// TailProbability converts a t statistic into a p-value. A NaN statistic or
// non-positive degrees of freedom cannot be tested and give p = 1.
func TailProbability(t, df float64, tail TailTest) float64 {
	if math.IsNaN(t) || !(df > 0) {
		return 1
	}
	switch tail {
	case Greater:
		return StudentTCDF(-t, df)
	case Less:
		return StudentTCDF(t, df)
	default:
		return 2 * StudentTCDF(-math.Abs(t), df)
	}
}

// TTest runs a two-sample t-test of a against b and returns the statistic t
// and its p-value. With EqualVariance Yes the pooled variance and
// nA+nB-2 degrees of freedom are used, otherwise Welch's standard error and
// Welch-Satterthwaite degrees of freedom. A positive t means a has the larger
// mean.
func TTest(a, b []float64, equalVariance EqualVariance, tail TailTest) (t, p float64) {
	nA, nB := float64(len(a)), float64(len(b))
	meanA := MeanIgnoringMissing(a)
	meanB := MeanIgnoringMissing(b)
	varA := Variance(a, meanA)
	varB := Variance(b, meanB)

	var df float64
	if equalVariance {
		df = nA + nB - 2
		pooled := ((nA-1)*varA + (nB-1)*varB) / df
		t = (meanA - meanB) / math.Sqrt(pooled*(1/nA+1/nB))
	} else {
		seA := varA / nA
		seB := varB / nB
		t = (meanA - meanB) / math.Sqrt(seA+seB)
		df = (seA + seB) * (seA + seB) / (seA*seA/(nA-1) + seB*seB/(nB-1))
	}
	return t, TailProbability(t, df, tail)
}
