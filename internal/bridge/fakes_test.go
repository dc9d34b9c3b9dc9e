package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vantran-dev/homestream-core/internal/bus"
	"github.com/vantran-dev/homestream-core/internal/hub"
	"github.com/vantran-dev/homestream-core/internal/storage"
)

// fakeStore implements Storage in memory.
type fakeStore struct {
	mu sync.Mutex

	lastStatus    map[string]*storage.DeviceStatus
	lastStatusErr error

	controlRecords []storage.ControlRecord
	controlErr     error
	nextRecordID   int64

	telemetry    []storage.TelemetryReading
	telemetryErr error

	lastStatusCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lastStatus:   make(map[string]*storage.DeviceStatus),
		nextRecordID: 1,
	}
}

func (f *fakeStore) LastStatus(_ context.Context, deviceID string) (*storage.DeviceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastStatusCalls++
	if f.lastStatusErr != nil {
		return nil, f.lastStatusErr
	}
	return f.lastStatus[deviceID], nil
}

func (f *fakeStore) AppendControlRecord(_ context.Context, record storage.ControlRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.controlErr != nil {
		return 0, f.controlErr
	}
	record.ID = f.nextRecordID
	f.nextRecordID++
	f.controlRecords = append(f.controlRecords, record)
	return record.ID, nil
}

func (f *fakeStore) AppendTelemetry(_ context.Context, reading storage.TelemetryReading) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.telemetryErr != nil {
		return 0, f.telemetryErr
	}
	f.telemetry = append(f.telemetry, reading)
	return int64(len(f.telemetry)), nil
}

func (f *fakeStore) records() []storage.ControlRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.ControlRecord(nil), f.controlRecords...)
}

func (f *fakeStore) readings() []storage.TelemetryReading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.TelemetryReading(nil), f.telemetry...)
}

// broadcastCall records one Broadcast invocation.
type broadcastCall struct {
	topic string
	data  any
}

// fakeHub implements ClientHub with an inspectable broadcast log and a
// controllable event stream.
type fakeHub struct {
	mu         sync.Mutex
	broadcasts []broadcastCall
	events     chan hub.Event
	closed     bool
}

func newFakeHub() *fakeHub {
	return &fakeHub{events: make(chan hub.Event, 16)}
}

func (f *fakeHub) Accept(_ *websocket.Conn, _, _ string) (*hub.Session, error) {
	return nil, nil
}

func (f *fakeHub) Events() <-chan hub.Event { return f.events }

func (f *fakeHub) Broadcast(topic string, data any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, broadcastCall{topic: topic, data: data})
	return 1
}

func (f *fakeHub) SessionCount() int { return 0 }

func (f *fakeHub) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
}

func (f *fakeHub) broadcastLog() []broadcastCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broadcastCall(nil), f.broadcasts...)
}

// publishCall records one bus publish.
type publishCall struct {
	topic   string
	payload []byte
}

// fakeBus implements Bus.
type fakeBus struct {
	mu           sync.Mutex
	connectErr   error
	connectCalls int
	disconnects  int
	publishErr   error
	published    []publishCall
	handlers     map[string]bus.MessageHandler
	onDisconnect func(error)
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]bus.MessageHandler)}
}

func (f *fakeBus) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}

func (f *fakeBus) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeBus) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishCall{topic: topic, payload: payload})
	return nil
}

func (f *fakeBus) Handle(topic string, handler bus.MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
}

func (f *fakeBus) SetOnDisconnect(callback func(err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = callback
}

func (f *fakeBus) State() bus.State { return bus.StateConnected }

func (f *fakeBus) publishes() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall(nil), f.published...)
}

// mirrorCall records one mirror write.
type mirrorCall struct {
	kind     string
	deviceID string
	status   string
	at       time.Time
}

// fakeMirror implements TelemetryMirror.
type fakeMirror struct {
	mu    sync.Mutex
	calls []mirrorCall
}

func (f *fakeMirror) WriteSensorReading(_, _, _ float64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mirrorCall{kind: "sensor", at: at})
}

func (f *fakeMirror) WriteDeviceState(deviceID, status string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mirrorCall{kind: "device", deviceID: deviceID, status: status, at: at})
}

func (f *fakeMirror) writes() []mirrorCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mirrorCall(nil), f.calls...)
}
