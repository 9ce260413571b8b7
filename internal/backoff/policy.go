package backoff

// DecayPolicy decides how the soft-block counter recovers after sustained
// success. OnSuccess receives the current counter and the length of the
// uninterrupted ok run; it returns the new counter value and whether the
// suspension window should be cleared outright.
type DecayPolicy interface {
	OnSuccess(consecutive, successRun int) (next int, clear bool)
}

// SingleStepDecay lowers the counter by one after Run consecutive successes
// and clears the suspension once the counter has been at zero for a second
// full run. Recovery is deliberately much slower than escalation.
type SingleStepDecay struct {
	Run int
}

// OnSuccess implements DecayPolicy.
func (p SingleStepDecay) OnSuccess(consecutive, successRun int) (int, bool) {
	run := p.Run
	if run <= 0 {
		run = 5
	}
	if successRun < run {
		return consecutive, false
	}
	if consecutive > 0 {
		return consecutive - 1, false
	}
	// Counter already at zero for a sustained run: cooldown complete.
	return 0, true
}
