package shared

import "math"

// Power runs the Goertzel recursion over samples for the DFT bin nearest
// targetFreq and returns its magnitude scaled so that an on-bin sine of
// amplitude A reads as A.
func Power(samples []float64, targetFreq float64, sampleRate int) float64 {
	n := len(samples)
	if n == 0 || sampleRate <= 0 {
		return 0
	}
	k := math.Round(float64(n) * targetFreq / float64(sampleRate))
	omega := 2 * math.Pi * k / float64(n)
	coeff := 2 * math.Cos(omega)

	var s1, s2 float64
	for _, x := range samples {
		s0 := x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		// rounding noise on an all-zero window
		power = 0
	}
	return math.Sqrt(power) * 2 / float64(n)
}
