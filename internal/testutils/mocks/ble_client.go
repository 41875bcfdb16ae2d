package mocks

import (
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockBLEClient is a testify mock of the go-ble client surface the radio
// drives. Disconnected is backed by a channel closed with Drop.
type MockBLEClient struct {
	mock.Mock

	dropOnce     sync.Once
	disconnected chan struct{}
}

func NewMockBLEClient() *MockBLEClient {
	return &MockBLEClient{disconnected: make(chan struct{})}
}

// Drop simulates the peripheral going away.
func (m *MockBLEClient) Drop() {
	m.dropOnce.Do(func() { close(m.disconnected) })
}

func (m *MockBLEClient) Disconnected() <-chan struct{} { return m.disconnected }

func (m *MockBLEClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *MockBLEClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

func (m *MockBLEClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *MockBLEClient) WriteDescriptor(d *ble.Descriptor, value []byte) error {
	return m.Called(d, value).Error(0)
}

func (m *MockBLEClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *MockBLEClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *MockBLEClient) CancelConnection() error {
	return m.Called().Error(0)
}
