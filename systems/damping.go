package systems

import (
	"gonum.org/v1/gonum/spatial/r2"
)

// SmoothDamp advances current toward target with a critically damped spring.
// rate is the filter's internal velocity and must be carried between calls.
// smoothTime is roughly the time to reach the target; the result never
// overshoots target.
func SmoothDamp(current, target, rate r2.Vec, smoothTime, dt float64) (out, newRate r2.Vec) {
	if dt <= 0 {
		return current, rate
	}
	smoothTime = max(smoothTime, 1e-4)
	omega := 2 / smoothTime
	x := omega * dt
	decay := 1 / (1 + x + 0.48*x*x + 0.235*x*x*x)

	change := r2.Sub(current, target)
	temp := r2.Scale(dt, r2.Add(rate, r2.Scale(omega, change)))
	newRate = r2.Scale(decay, r2.Sub(rate, r2.Scale(omega, temp)))
	out = r2.Add(target, r2.Scale(decay, r2.Add(change, temp)))

	// Clamp at the target if this step crossed it
	if r2.Dot(r2.Sub(target, current), r2.Sub(out, target)) > 0 {
		return target, r2.Vec{}
	}
	return out, newRate
}
