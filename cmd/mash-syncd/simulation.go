package main

import (
	"math/rand"
	"time"

	"github.com/mash-protocol/mash-sync/pkg/model"
	"github.com/mash-protocol/mash-sync/pkg/schema"
)

// Simulated operating states of the measurement object.
const (
	statusIdle     = "idle"
	statusCharging = "charging"
	statusFeeding  = "feeding"
)

const maxSimulatedPower = 11_000_000 // mW

// simulator produces a plausible power curve for a three-phase device.
// It is only touched on the loop.
type simulator struct {
	rng      *rand.Rand
	power    int64
	imported int64
	exported int64
	status   string
	ticks    int
}

func newSimulator(seed int64) *simulator {
	return &simulator{rng: rand.New(rand.NewSource(seed)), status: statusIdle}
}

// step advances the simulation by interval and returns the values to
// write, plus the previous status when it changed.
func (s *simulator) step(interval time.Duration) (map[schema.PropertyPathHandle]any, string) {
	s.ticks++
	prev := s.status
	if s.ticks%12 == 0 {
		switch s.status {
		case statusIdle:
			s.status = statusCharging
		case statusCharging:
			s.status = statusFeeding
		default:
			s.status = statusIdle
		}
	}

	switch s.status {
	case statusIdle:
		s.power = 0
	case statusCharging:
		s.power = clamp(s.power+s.rng.Int63n(2_000_000)-500_000, 1_400_000, maxSimulatedPower)
	case statusFeeding:
		s.power = -clamp(-s.power+s.rng.Int63n(1_000_000)-300_000, 500_000, maxSimulatedPower/2)
	}

	// mW over the interval in mWh.
	energy := s.power * interval.Milliseconds() / int64(time.Hour/time.Millisecond)
	if energy > 0 {
		s.imported += energy
	} else {
		s.exported -= energy
	}

	values := map[schema.PropertyPathHandle]any{
		model.MeasurementPower:    s.power,
		model.MeasurementImported: s.imported,
		model.MeasurementExported: s.exported,
		model.MeasurementStatus:   s.status,
	}
	current := s.power / 3 * 1000 / 230_000
	for k := uint16(1); k <= 3; k++ {
		values[model.MeasurementPhaseVoltage(k)] = 230_000 + s.rng.Int63n(4_000) - 2_000
		values[model.MeasurementPhaseCurrent(k)] = current
	}

	if prev == s.status {
		return values, ""
	}
	return values, prev
}

func clamp(v, lo, hi int64) int64 {
	return min(max(v, lo), hi)
}

// simulate drives the measurement object until the daemon stops.
func (d *Daemon) simulate(interval time.Duration) {
	defer d.wg.Done()

	sim := newSimulator(time.Now().UnixNano())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.post(func() { d.simulationStep(sim, interval) })
		}
	}
}

func (d *Daemon) simulationStep(sim *simulator, interval time.Duration) {
	if d.stopping {
		return
	}
	values, prev := sim.step(interval)
	for p, v := range values {
		if err := d.measurement.Set(p, v); err != nil {
			d.logger.Warn("simulation", "path", p, "error", err)
		}
	}
	d.logEvent(sampleEvent, samplePayload{Power: sim.power, Imported: sim.imported, Exported: sim.exported})
	if prev != "" {
		d.logEvent(statusEvent, statusPayload{From: prev, To: sim.status})
		d.logger.Info("simulated status change", "from", prev, "to", sim.status)
	}
}
