package service

import (
	"math"
	"sort"
)

// TestKind selects the two-sample t-test variant.
type TestKind string

const (
	// TestStudent is the pooled-variance t-test.
	TestStudent TestKind = "student"
	// TestWelch is the unequal-variance t-test.
	TestWelch TestKind = "welch"
)

// tTest returns the two-sided p-value comparing a and b.
// Groups with fewer than two values, or zero spread with equal means, yield NaN.
// Zero spread with different means yields 0.
func tTest(kind TestKind, a, b []float64) float64 {
	n1, n2 := len(a), len(b)
	if n1 < 2 || n2 < 2 {
		return math.NaN()
	}
	mean1, var1 := meanVar(a)
	mean2, var2 := meanVar(b)

	if kind == TestWelch {
		return welchTTest(mean1, var1, n1, mean2, var2, n2)
	}
	return studentTTest(mean1, var1, n1, mean2, var2, n2)
}

// studentTTest computes the p-value for the pooled-variance t-test (two-tailed).
func studentTTest(mean1, var1 float64, n1 int, mean2, var2 float64, n2 int) float64 {
	df := float64(n1 + n2 - 2)
	pooled := (float64(n1-1)*var1 + float64(n2-1)*var2) / df
	seDiff := math.Sqrt(pooled * (1/float64(n1) + 1/float64(n2)))
	if seDiff < 1e-15 {
		return degenerateP(mean1, mean2)
	}

	t := (mean1 - mean2) / seDiff
	return 2 * studentTCDF(-math.Abs(t), df)
}

// welchTTest computes the p-value for Welch's t-test (two-tailed).
func welchTTest(mean1, var1 float64, n1 int, mean2, var2 float64, n2 int) float64 {
	se1 := var1 / float64(n1)
	se2 := var2 / float64(n2)
	seDiff := math.Sqrt(se1 + se2)
	if seDiff < 1e-15 {
		return degenerateP(mean1, mean2)
	}

	t := (mean1 - mean2) / seDiff

	num := (se1 + se2) * (se1 + se2)
	den := se1*se1/float64(n1-1) + se2*se2/float64(n2-1)
	df := num / den
	if df < 1 {
		df = 1
	}

	return 2 * studentTCDF(-math.Abs(t), df)
}

func degenerateP(mean1, mean2 float64) float64 {
	if mean1 == mean2 {
		return math.NaN()
	}
	return 0
}

// meanVar returns the mean and sample variance. A constant group has exactly
// zero variance and its mean is the shared value, free of rounding.
func meanVar(vals []float64) (mean, variance float64) {
	if constant(vals) {
		return vals[0], 0
	}
	n := float64(len(vals))
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	mean = sum / n

	ss := 0.0
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	return mean, ss / (n - 1)
}

func constant(vals []float64) bool {
	if len(vals) == 0 {
		return false
	}
	for _, v := range vals[1:] {
		if v != vals[0] {
			return false
		}
	}
	return true
}

func mean(vals []float64) float64 {
	if constant(vals) {
		return vals[0]
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func studentTCDF(t, df float64) float64 {
	if df <= 0 {
		return 0.5
	}
	x := df / (df + t*t)
	beta := incompleteBeta(x, df/2, 0.5)
	if t < 0 {
		return 0.5 * beta
	}
	return 1 - 0.5*beta
}

// incompleteBeta is the regularized incomplete beta function I_x(a, b),
// evaluated with Lentz's continued fraction.
func incompleteBeta(x, a, b float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	if x > (a+1)/(a+b+2) {
		return 1 - incompleteBeta(1-x, b, a)
	}

	const (
		maxIter = 300
		tiny    = 1e-30
		eps     = 1e-14
	)

	lnBeta := lgamma(a) + lgamma(b) - lgamma(a+b)
	front := math.Exp(a*math.Log(x) + b*math.Log(1-x) - lnBeta)

	f := 1.0
	c := 1.0
	d := 0.0

	for i := 0; i <= maxIter; i++ {
		m := float64(i / 2)
		var num float64
		if i == 0 {
			num = 1.0
		} else if i%2 == 0 {
			num = m * (b - m) * x / ((a + 2*m - 1) * (a + 2*m))
		} else {
			num = -((a + m) * (a + b + m) * x) / ((a + 2*m) * (a + 2*m + 1))
		}

		d = 1 + num*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		d = 1 / d

		c = 1 + num/c
		if math.Abs(c) < tiny {
			c = tiny
		}

		f *= d * c
		if math.Abs(d*c-1) < eps {
			break
		}
	}

	return front * (f - 1) / a
}

func lgamma(x float64) float64 {
	g, _ := math.Lgamma(x)
	return g
}

// benjaminiHochberg adjusts p-values for false discovery rate.
// NaN inputs stay NaN and do not count towards the number of tests.
func benjaminiHochberg(pvals []float64) []float64 {
	fdr := make([]float64, len(pvals))
	idx := make([]int, 0, len(pvals))
	for i, p := range pvals {
		if math.IsNaN(p) {
			fdr[i] = math.NaN()
			continue
		}
		idx = append(idx, i)
	}
	n := len(idx)
	if n == 0 {
		return fdr
	}

	sort.SliceStable(idx, func(i, j int) bool {
		return pvals[idx[i]] < pvals[idx[j]]
	})

	minP := 1.0
	for i := n - 1; i >= 0; i-- {
		origIdx := idx[i]
		rank := i + 1
		adjusted := pvals[origIdx] * float64(n) / float64(rank)
		if adjusted > 1 {
			adjusted = 1
		}
		if adjusted < minP {
			minP = adjusted
		} else {
			adjusted = minP
		}
		fdr[origIdx] = adjusted
	}

	return fdr
}
