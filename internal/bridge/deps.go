package bridge

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vantran-dev/homestream-core/internal/bus"
	"github.com/vantran-dev/homestream-core/internal/hub"
	"github.com/vantran-dev/homestream-core/internal/storage"
)

// Bus is the broker-side collaborator. *bus.Connection satisfies it.
type Bus interface {
	Connect(ctx context.Context) error
	Disconnect()
	Publish(topic string, payload []byte) error
	Handle(topic string, handler bus.MessageHandler)
	SetOnDisconnect(callback func(err error))
	State() bus.State
}

// ClientHub is the client-side collaborator. *hub.Hub satisfies it.
type ClientHub interface {
	Accept(conn *websocket.Conn, remoteAddr, userAgent string) (*hub.Session, error)
	Events() <-chan hub.Event
	Broadcast(topic string, data any) int
	SessionCount() int
	Close()
}

// Storage is the persistence collaborator. *storage.Store satisfies it.
//
// Failures here are non-fatal to the realtime path: callers log them and
// carry on.
type Storage interface {
	LastStatus(ctx context.Context, deviceID string) (*storage.DeviceStatus, error)
	AppendControlRecord(ctx context.Context, record storage.ControlRecord) (int64, error)
	AppendTelemetry(ctx context.Context, reading storage.TelemetryReading) (int64, error)
}

// TelemetryMirror is the optional time-series sink. *influxdb.Client
// satisfies it; a nil mirror disables mirroring.
type TelemetryMirror interface {
	WriteSensorReading(temperature, humidity, lightIntensity float64, at time.Time)
	WriteDeviceState(deviceID, status string, at time.Time)
}
