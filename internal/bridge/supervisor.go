package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vantran-dev/homestream-core/internal/bus"
	"github.com/vantran-dev/homestream-core/internal/hub"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/config"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/logging"
)

// restartPause is the settle time between Stop and Start during a restart,
// giving the broker a moment to drop the old session.
const restartPause = 2 * time.Second

// Supervisor composes the bus connection, the client hub, the orchestrator
// and the relay, and owns their combined lifecycle.
//
// It is the only component that knows both sides of the bridge: inbound
// bus messages are wired to the relay, and hub events are pumped into the
// orchestrator and the bus. The components themselves never hold
// references to each other's internals.
type Supervisor struct {
	cfg    *config.Config
	logger *logging.Logger
	store  Storage
	mirror TelemetryMirror

	// Factories rebuild the transport components on every Start, since a
	// closed hub or disconnected bus is terminal. Overridable in tests.
	newBus func() Bus
	newHub func() ClientHub

	mu           sync.Mutex
	running      bool
	bus          Bus
	hub          ClientHub
	orchestrator *Orchestrator
	relay        *Relay
	pumpDone     chan struct{}
	pause        time.Duration
}

// NewSupervisor creates a supervisor. Nothing starts until Start.
//
// Parameters:
//   - cfg: Full configuration
//   - store: Persistence collaborator shared across restarts
//   - mirror: Optional time-series mirror; nil disables it
//   - logger: Logger shared with the constructed components
func NewSupervisor(cfg *config.Config, store Storage, mirror TelemetryMirror, logger *logging.Logger) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		logger: logger,
		store:  store,
		mirror: mirror,
		pause:  restartPause,
	}
	s.newBus = func() Bus { return bus.New(cfg.MQTT, logger) }
	s.newHub = func() ClientHub { return hub.New(cfg.WebSocket, logger) }
	return s
}

// Start builds and wires the bridge components, then connects the bus.
//
// When the broker is unreachable the bridge still comes up in a degraded
// mode: clients can connect and the API serves stored data, but command
// publishes fail until a Restart succeeds. The bus connect error is
// returned so the caller can decide how loudly to report it.
//
// Returns:
//   - error: ErrAlreadyRunning, or the terminal bus connect failure
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	busConn := s.newBus()
	clientHub := s.newHub()
	s.bus = busConn
	s.hub = clientHub
	s.orchestrator = NewOrchestrator(s.cfg.Devices.IDs, s.cfg.MQTT.Topics, s.store, clientHub, busConn, s.logger)
	s.relay = NewRelay(s.store, clientHub, s.mirror, s.logger)

	busConn.Handle(s.cfg.MQTT.Topics.SensorData, s.relay.HandleTelemetry)
	busConn.Handle(s.cfg.MQTT.Topics.DeviceStatus, s.relay.HandleDeviceStatus)
	busConn.SetOnDisconnect(func(err error) {
		if errors.Is(err, bus.ErrMaxReconnectExceeded) {
			s.logger.Error("bus connection abandoned, restart required", "error", err)
			return
		}
		s.logger.Warn("bus connection lost", "error", err)
	})

	done := make(chan struct{})
	s.pumpDone = done
	s.running = true
	orchestrator := s.orchestrator
	s.mu.Unlock()

	go s.pump(clientHub, busConn, orchestrator, done)

	s.logger.Info("bridge starting",
		"devices", len(s.cfg.Devices.IDs),
		"telemetry_topic", s.cfg.MQTT.Topics.SensorData,
	)

	if err := busConn.Connect(ctx); err != nil {
		s.logger.Error("bus unavailable, bridge degraded", "error", err)
		return err
	}
	return nil
}

// pump drives hub events into the orchestrator and the bus. It exits when
// the hub closes its event stream during Stop.
func (s *Supervisor) pump(clientHub ClientHub, busConn Bus, orchestrator *Orchestrator, done chan struct{}) {
	defer close(done)

	for event := range clientHub.Events() {
		switch event.Kind {
		case hub.EventControlRequest:
			// The client already holds an ack; failures surface through the
			// pending broadcast never being confirmed.
			if _, err := orchestrator.Control(context.Background(), event.DeviceID, event.Action); err != nil {
				s.logger.Warn("client control request failed",
					"session_id", event.SessionID,
					"device_id", event.DeviceID,
					"error", err,
				)
			}

		case hub.EventPublishRequest:
			if err := busConn.Publish(event.Topic, event.Payload); err != nil {
				s.logger.Warn("client publish failed",
					"session_id", event.SessionID,
					"topic", event.Topic,
					"error", err,
				)
			}

		case hub.EventClientConnected, hub.EventClientDisconnected:
			s.logger.Debug("hub session change", "session_id", event.SessionID)
		}
	}
}

// Stop tears the bridge down: the hub closes first so no client event can
// race a disconnecting bus, then the bus disconnects. Safe to call when
// not running.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	clientHub := s.hub
	busConn := s.bus
	done := s.pumpDone
	s.hub = nil
	s.bus = nil
	s.orchestrator = nil
	s.relay = nil
	s.mu.Unlock()

	clientHub.Close()
	<-done
	busConn.Disconnect()
	s.logger.Info("bridge stopped")
}

// Restart stops the bridge, pauses briefly, and starts it again with
// fresh components.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.logger.Info("bridge restarting")
	s.Stop()
	time.Sleep(s.pause)
	return s.Start(ctx)
}

// Control routes a programmatic control request (the HTTP path) to the
// current orchestrator.
//
// Returns:
//   - ControlResult: Same shape as the WebSocket path
//   - error: ErrNotRunning before Start, otherwise the orchestrator error
func (s *Supervisor) Control(ctx context.Context, deviceID, action string) (ControlResult, error) {
	s.mu.Lock()
	orchestrator := s.orchestrator
	s.mu.Unlock()

	if orchestrator == nil {
		return ControlResult{}, ErrNotRunning
	}
	return orchestrator.Control(ctx, deviceID, action)
}

// Hub returns the current client hub, or nil when not running.
func (s *Supervisor) Hub() ClientHub {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hub
}

// BusState reports the current bus connection state for health checks.
func (s *Supervisor) BusState() string {
	s.mu.Lock()
	busConn := s.bus
	s.mu.Unlock()

	if busConn == nil {
		return "stopped"
	}
	return busConn.State().String()
}

// Running reports whether the bridge is started.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
