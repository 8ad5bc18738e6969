package runner

import (
	"math"
	"time"
)

// Stage moves the rate linearly from FromRPS to ToRPS over Duration.
// Equal rates hold a constant rate.
type Stage struct {
	FromRPS  int
	ToRPS    int
	Duration time.Duration
}

// RampUp returns a single stage climbing to rps over d, starting at a tenth of rps.
func RampUp(rps int, d time.Duration) []Stage {
	if rps <= 0 || d <= 0 {
		return nil
	}
	from := rps / 10
	if from < 1 {
		from = 1
	}
	return []Stage{{FromRPS: from, ToRPS: rps, Duration: d}}
}

type stagePlan struct {
	segments []stageSegment
}

type stageSegment struct {
	start    time.Duration
	duration time.Duration
	fromRate float64
	toRate   float64
}

func compileStagePlan(stages []Stage) *stagePlan {
	plan := &stagePlan{}
	var offset time.Duration
	for _, st := range stages {
		if st.Duration <= 0 {
			continue
		}
		seg := stageSegment{
			start:    offset,
			duration: st.Duration,
			fromRate: float64(st.FromRPS),
			toRate:   float64(st.ToRPS),
		}
		plan.segments = append(plan.segments, seg)
		offset += st.Duration
	}
	if len(plan.segments) == 0 {
		return nil
	}
	return plan
}

// rateAt returns the scheduled rate; false once elapsed is past the last stage.
func (p *stagePlan) rateAt(elapsed time.Duration) (float64, bool) {
	if p == nil || len(p.segments) == 0 {
		return 0, false
	}
	if elapsed < 0 {
		elapsed = 0
	}
	for _, seg := range p.segments {
		if elapsed < seg.start || elapsed >= seg.start+seg.duration {
			continue
		}
		if seg.fromRate == seg.toRate {
			return seg.fromRate, true
		}
		progress := float64(elapsed-seg.start) / float64(seg.duration)
		progress = math.Min(math.Max(progress, 0), 1)
		return seg.fromRate + (seg.toRate-seg.fromRate)*progress, true
	}
	return 0, false
}
