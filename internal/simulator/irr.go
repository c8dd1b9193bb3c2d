package simulator

import "math"

const (
	irrNewtonSteps   = 64
	irrBisectSteps   = 200
	irrTolerance     = 1e-10
	irrBracketSteps  = 400
	irrMinMonthlyRet = -0.9999
	irrMaxMonthlyRet = 10.0
)

// IRR computes the annualized internal rate of return of a monthly cash-flow
// sequence: cashflows[0] at time zero (the equity outflow, negative), then one
// entry per simulated month. The root search runs on the monthly rate with
// Newton iteration and a bisection fallback over a bracketing scan.
func IRR(cashflows []float64) (float64, error) {
	if len(cashflows) < 2 {
		return 0, &IRRConvergenceError{Reason: "fewer than two cash flows"}
	}
	hasPos, hasNeg := false, false
	for _, cf := range cashflows {
		if cf > 0 {
			hasPos = true
		}
		if cf < 0 {
			hasNeg = true
		}
	}
	if !hasPos || !hasNeg {
		return 0, &IRRConvergenceError{Reason: "no sign change in cash flows"}
	}

	if r, ok := irrNewton(cashflows); ok {
		return annualize(r), nil
	}
	if r, ok := irrBisect(cashflows); ok {
		return annualize(r), nil
	}
	return 0, &IRRConvergenceError{Reason: "iteration budget exhausted"}
}

func annualize(monthly float64) float64 {
	return math.Pow(1+monthly, 12) - 1
}

func npv(cashflows []float64, r float64) float64 {
	d := 1.0
	total := 0.0
	for _, cf := range cashflows {
		total += cf / d
		d *= 1 + r
	}
	return total
}

func npvDeriv(cashflows []float64, r float64) float64 {
	total := 0.0
	for t := 1; t < len(cashflows); t++ {
		total -= float64(t) * cashflows[t] / math.Pow(1+r, float64(t+1))
	}
	return total
}

func irrNewton(cashflows []float64) (float64, bool) {
	r := 0.01
	for i := 0; i < irrNewtonSteps; i++ {
		f := npv(cashflows, r)
		if math.Abs(f) < irrTolerance {
			return r, true
		}
		df := npvDeriv(cashflows, r)
		if df == 0 || math.IsNaN(df) || math.IsInf(df, 0) {
			return 0, false
		}
		next := r - f/df
		if math.IsNaN(next) || next <= irrMinMonthlyRet || next >= irrMaxMonthlyRet {
			return 0, false
		}
		if math.Abs(next-r) < irrTolerance {
			return next, true
		}
		r = next
	}
	return 0, false
}

// irrBisect scans for a sign change of NPV over the monthly-rate range and
// bisects the first bracket it finds.
func irrBisect(cashflows []float64) (float64, bool) {
	lo, hi, ok := bracket(cashflows)
	if !ok {
		return 0, false
	}
	flo := npv(cashflows, lo)
	for i := 0; i < irrBisectSteps; i++ {
		mid := (lo + hi) / 2
		fmid := npv(cashflows, mid)
		if math.Abs(fmid) < irrTolerance || (hi-lo)/2 < irrTolerance {
			return mid, true
		}
		if (flo < 0) == (fmid < 0) {
			lo, flo = mid, fmid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2, true
}

func bracket(cashflows []float64) (float64, float64, bool) {
	step := (irrMaxMonthlyRet - irrMinMonthlyRet) / float64(irrBracketSteps)
	prev := irrMinMonthlyRet + 1e-6
	fprev := npv(cashflows, prev)
	for i := 1; i <= irrBracketSteps; i++ {
		r := irrMinMonthlyRet + step*float64(i)
		f := npv(cashflows, r)
		if !math.IsNaN(f) && !math.IsNaN(fprev) && (f < 0) != (fprev < 0) {
			return prev, r, true
		}
		prev, fprev = r, f
	}
	return 0, 0, false
}
