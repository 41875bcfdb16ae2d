package mocks

import (
	"context"

	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockRadio is a testify mock of gatt.Radio for tests that assert exact
// request sequences without an event stream.
type MockRadio struct {
	mock.Mock
	events chan gatt.Event
}

func NewMockRadio() *MockRadio {
	return &MockRadio{events: make(chan gatt.Event, 16)}
}

func (m *MockRadio) Connect(ctx context.Context, address string) (gatt.Handle, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(gatt.Handle), args.Error(1)
}

func (m *MockRadio) Reconnect(h gatt.Handle) error {
	return m.Called(h).Error(0)
}

func (m *MockRadio) Disconnect(h gatt.Handle) error {
	return m.Called(h).Error(0)
}

func (m *MockRadio) DiscoverServices(h gatt.Handle) error {
	return m.Called(h).Error(0)
}

func (m *MockRadio) ReadCharacteristic(h gatt.Handle, c *gatt.Characteristic) error {
	return m.Called(h, c).Error(0)
}

func (m *MockRadio) WriteCharacteristic(h gatt.Handle, c *gatt.Characteristic, value []byte) error {
	return m.Called(h, c, value).Error(0)
}

func (m *MockRadio) SetNotify(h gatt.Handle, c *gatt.Characteristic, enable bool) error {
	return m.Called(h, c, enable).Error(0)
}

func (m *MockRadio) WriteDescriptor(h gatt.Handle, c *gatt.Characteristic, descriptor uuid.UUID, value []byte) error {
	return m.Called(h, c, descriptor, value).Error(0)
}

func (m *MockRadio) Events() <-chan gatt.Event { return m.events }

func (m *MockRadio) Close() error { return nil }
