package sim

import (
	"sync"

	"go.uber.org/zap"
	"gopkg.in/tomb.v2"
)

// SimulationManager runs a block of simulations, one goroutine each.
// Instances share no mutable state except the fee-policy wrapper, which
// carries its own reader-writer lock. A barrier lets callers collect
// cross-simulation reports once every simulation has finished; there is
// no rendezvous between individual steps.
type SimulationManager struct {
	sims []*Simulation
	tomb tomb.Tomb

	// onBarrier runs once all simulations have finished, before Wait
	// returns.
	onBarrier func([]*Simulation)

	log *zap.SugaredLogger
}

// NewSimulationManager groups the given simulations.
func NewSimulationManager(sims []*Simulation, log *zap.SugaredLogger) *SimulationManager {
	return &SimulationManager{sims: sims, log: log}
}

// OnBarrier installs the cross-simulation reporting hook.
func (m *SimulationManager) OnBarrier(fn func([]*Simulation)) {
	m.onBarrier = fn
}

// Run drives all simulations to completion, waits on the barrier and
// returns the first simulation error. A failing simulation stops on its
// own; the others run on to completion.
func (m *SimulationManager) Run() error {
	var barrier sync.WaitGroup
	barrier.Add(len(m.sims))

	for _, s := range m.sims {
		s := s
		m.tomb.Go(func() error {
			defer barrier.Done()
			if err := s.Run(); err != nil {
				m.log.Errorw("simulation_failed", "simulation", s.ID, "err", err)
				return err
			}
			m.log.Infow("simulation_finished",
				"simulation", s.ID, "time", s.CurrentTimestamp())
			return nil
		})
	}

	barrier.Wait()
	if m.onBarrier != nil {
		m.onBarrier(m.sims)
	}
	m.tomb.Kill(nil)
	return m.tomb.Wait()
}
