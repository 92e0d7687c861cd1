package drift

import "github.com/nthlayer/nthlayer/internal/metrics"

// linearFit computes an ordinary least-squares fit of budget value over
// seconds-from-start. Requires at least two points.
func linearFit(points []metrics.Point) Regression {
	n := float64(len(points))
	t0 := points[0].Timestamp

	var sumX, sumY, sumXY, sumXX float64
	for _, p := range points {
		x := p.Timestamp.Sub(t0).Seconds()
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		// All samples share a timestamp; treat as flat.
		return Regression{Slope: 0, Intercept: sumY / n, RSquared: 0}
	}

	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for _, p := range points {
		x := p.Timestamp.Sub(t0).Seconds()
		predicted := intercept + slope*x
		ssTot += (p.Value - meanY) * (p.Value - meanY)
		ssRes += (p.Value - predicted) * (p.Value - predicted)
	}

	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
		if r2 < 0 {
			r2 = 0
		}
	}

	return Regression{Slope: slope, Intercept: intercept, RSquared: r2}
}

// autocorrelation computes the lag-k autocorrelation coefficient of the
// values. Zero when the series is too short or has no variance.
func autocorrelation(values []float64, lag int) float64 {
	if lag <= 0 || len(values) <= lag {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var num, denom float64
	for i, v := range values {
		denom += (v - mean) * (v - mean)
		if i+lag < len(values) {
			num += (v - mean) * (values[i+lag] - mean)
		}
	}
	if denom == 0 {
		return 0
	}
	return num / denom
}

// variance computes the population variance of the sample values.
func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return sq / float64(len(values))
}
