package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// CorrelationMethod selects the correlation coefficient computed by CorrTest
type CorrelationMethod int

const (
	Pearson CorrelationMethod = iota
	Spearman
)

func (m CorrelationMethod) String() string {
	switch m {
	case Pearson:
		return "pearson"
	case Spearman:
		return "spearman"
	}
	return fmt.Sprintf("CorrelationMethod(%d)", int(m))
}

func (m CorrelationMethod) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *CorrelationMethod) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pearson", "Pearson":
		*m = Pearson
	case "spearman", "Spearman":
		*m = Spearman
	default:
		return fmt.Errorf("unknown correlation method %q", text)
	}
	return nil
}

// PearsonCorrelation returns the linear correlation of a and b: the mean
// product of the centred samples divided by the product of their population
// standard deviations.
func PearsonCorrelation(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return math.NaN(), fmt.Errorf("pearson correlation of %d and %d values: %w",
			len(a), len(b), ErrSizeMismatch)
	}
	n := float64(len(a))
	da := centred(a, MeanIgnoringMissing(a))
	db := centred(b, MeanIgnoringMissing(b))

	cov := floats.Dot(da, db) / n
	sdA := math.Sqrt(floats.Dot(da, da) / n)
	sdB := math.Sqrt(floats.Dot(db, db) / n)

	// round-off can push perfectly correlated samples just past ±1
	r := cov / (sdA * sdB)
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	return r, nil
}

// SpearmanCorrelation returns the rank correlation of a and b, computed as
// the Pearson correlation of their ranks. Ties are handled by Rank.
func SpearmanCorrelation(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return math.NaN(), fmt.Errorf("spearman correlation of %d and %d values: %w",
			len(a), len(b), ErrSizeMismatch)
	}
	return PearsonCorrelation(Rank(a), Rank(b))
}

// CorrTest computes the correlation r of a and b with the given method and its
// significance p, testing t = r*sqrt((n-2)/(1-r^2)) against Student's t
// distribution with n-2 degrees of freedom.
func CorrTest(a, b []float64, method CorrelationMethod, tail TailTest) (r, p float64, err error) {
	switch method {
	case Spearman:
		r, err = SpearmanCorrelation(a, b)
	case Pearson:
		r, err = PearsonCorrelation(a, b)
	default:
		return math.NaN(), 1, fmt.Errorf("unsupported correlation method %v", method)
	}
	if err != nil {
		return math.NaN(), 1, err
	}
	n := float64(len(a))
	t := r * math.Sqrt((n-2)/(1-r*r))
	return r, TailProbability(t, n-2, tail), nil
}

func centred(seq []float64, mean float64) []float64 {
	out := make([]float64, len(seq))
	copy(out, seq)
	floats.AddConst(-mean, out)
	return out
}
