package sim

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quarzvale/marketsim/pkg/exchange"
	"github.com/quarzvale/marketsim/pkg/message"
	"github.com/quarzvale/marketsim/pkg/types"
)

// Agent is a local message source/sink attached to the simulation bus.
type Agent interface {
	// ID returns the agent's registered id.
	ID() types.AgentID
	// ReceiveMessage handles one delivered message.
	ReceiveMessage(msg *message.Message)
	// Start lets the agent enqueue its initial messages.
	Start()
}

// InvariantError is returned when an accounting invariant breach halted
// the simulation; the process maps it to exit code 2.
type InvariantError struct {
	Diagnostic string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Diagnostic)
}

// Simulation owns one exchange, one message queue and a set of local
// agents, and drains the queue single-threaded in timestamp order.
// Matching, validation and balance mutations all happen inside the
// message handler; there is no suspension point inside matching.
type Simulation struct {
	ID       string
	Exchange *exchange.MultiBookExchangeAgent

	queue   *MessageQueue
	agents  map[types.AgentID]Agent
	current types.Timestamp
	horizon types.Timestamp

	log *zap.SugaredLogger
}

// NewSimulation builds a simulation around the given exchange factory.
func NewSimulation(
	horizon types.Timestamp,
	build func(dispatch exchange.Dispatch, now func() types.Timestamp) *exchange.MultiBookExchangeAgent,
	log *zap.SugaredLogger,
) *Simulation {
	s := &Simulation{
		ID:      uuid.NewString(),
		queue:   NewMessageQueue(),
		agents:  make(map[types.AgentID]Agent),
		horizon: horizon,
		log:     log,
	}
	s.Exchange = build(s.Dispatch, s.CurrentTimestamp)
	return s
}

// CurrentTimestamp returns the simulated time of the message being
// handled.
func (s *Simulation) CurrentTimestamp() types.Timestamp { return s.current }

// Horizon returns the end of simulated time.
func (s *Simulation) Horizon() types.Timestamp { return s.horizon }

// Dispatch queues a message onto the bus. Messages arriving in the past
// are clamped to the current time.
func (s *Simulation) Dispatch(msg *message.Message) {
	if msg.Arrival < s.current {
		msg.Arrival = s.current
	}
	s.queue.Push(msg)
}

// AddAgent attaches a local agent to the bus.
func (s *Simulation) AddAgent(a Agent) {
	s.agents[a.ID()] = a
}

// Step delivers the next message. Returns false when the queue is empty
// or the horizon is reached.
func (s *Simulation) Step() (bool, error) {
	msg, ok := s.queue.Peek()
	if !ok || msg.Arrival > s.horizon {
		return false, nil
	}
	msg, _ = s.queue.Pop()
	s.current = msg.Arrival

	if err := s.deliver(msg); err != nil {
		return false, err
	}

	// Fee tiers advance on slot boundaries; margin calls are scanned
	// after every handled message. Force-closes run under the same
	// invariant recovery as message handling.
	if err := s.guard(func() {
		s.Exchange.Clearing().UpdateFeeTiers(s.current)
		s.Exchange.CheckMarginCalls()
	}); err != nil {
		return false, err
	}
	return true, nil
}

// guard converts accounting panics into an InvariantError.
func (s *Simulation) guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &InvariantError{Diagnostic: fmt.Sprint(r)}
			s.log.Errorw("invariant_violation",
				"simulation", s.ID, "time", s.current, "diagnostic", r)
		}
	}()
	fn()
	return nil
}

// deliver routes one message, converting accounting panics into an
// InvariantError that halts the run.
func (s *Simulation) deliver(msg *message.Message) error {
	return s.guard(func() {
		if msg.Target == types.ExchangeAgentID {
			s.Exchange.ReceiveMessage(msg)
			return
		}
		if agent, ok := s.agents[msg.Target]; ok {
			agent.ReceiveMessage(msg)
			return
		}
		s.log.Debugw("message_dropped", "type", msg.Type, "target", msg.Target)
	})
}

// Run starts every agent and drains the queue to the horizon.
func (s *Simulation) Run() error {
	for _, a := range s.agents {
		a.Start()
	}
	for {
		progressed, err := s.Step()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}
