package btle

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/sirupsen/logrus"
)

// ConnectionManager owns the single physical connection to the band and
// drives its connect, disconnect and reconnect lifecycle.
type ConnectionManager struct {
	logger        *logrus.Logger
	radio         gatt.Radio
	band          *device.Band
	dispatcher    *Dispatcher
	autoReconnect bool

	mu     sync.Mutex
	handle gatt.Handle
}

func NewConnectionManager(radio gatt.Radio, band *device.Band, dispatcher *Dispatcher, autoReconnect bool, logger *logrus.Logger) *ConnectionManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &ConnectionManager{
		logger:        logger,
		radio:         radio,
		band:          band,
		dispatcher:    dispatcher,
		autoReconnect: autoReconnect,
	}
}

// Handle returns the currently owned handle, zero when there is none.
func (m *ConnectionManager) Handle() gatt.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// Conn returns the connection actions should run against.
func (m *ConnectionManager) Conn() Conn {
	return Conn{Radio: m.radio, Handle: m.Handle()}
}

// IsCurrent reports whether events tagged with h belong to the owned connection.
func (m *ConnectionManager) IsCurrent(h gatt.Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != 0 && h == m.handle
}

// Connect requests a fresh connection. It returns device.ErrAlreadyConnected
// without side effects when the band is already connected.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	address := m.band.Address()
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("device address is empty")
	}
	if m.band.IsConnected() {
		m.logger.WithField("address", address).Debug("Connect requested while already connected")
		return device.ErrAlreadyConnected
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle != 0 {
		m.logger.WithField("handle", m.handle).Debug("Releasing stale connection before connecting")
		if err := m.radio.Disconnect(m.handle); err != nil {
			m.logger.WithField("error", err).Warn("Failed to release stale connection")
		}
		m.handle = 0
	}

	m.logger.WithField("address", address).Info("Connecting to band...")
	h, err := m.radio.Connect(ctx, address)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Connect request rejected")
		return fmt.Errorf("failed to connect to device with address %q: %w", address, device.NormalizeError(err))
	}
	m.handle = h
	m.setState(device.StateConnecting)
	return nil
}

// Disconnect releases the connection, cancels the in-flight transaction and
// drops everything queued.
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	h := m.handle
	m.handle = 0
	m.mu.Unlock()

	m.dispatcher.abortAll()

	var err error
	if h != 0 {
		m.logger.WithField("handle", h).Info("Disconnecting from band")
		err = m.radio.Disconnect(h)
	}
	m.setState(device.StateNotConnected)
	if err != nil {
		return fmt.Errorf("failed to disconnect: %w", device.NormalizeError(err))
	}
	return nil
}

// handleConnected is called by the router when the owned link comes up.
func (m *ConnectionManager) handleConnected(h gatt.Handle) {
	m.logger.WithField("handle", h).Info("Connected to band")
	m.setState(device.StateConnected)
	if err := m.radio.DiscoverServices(h); err != nil {
		m.logger.WithField("error", err).Error("Service discovery request rejected")
	}
}

// handleDisconnected reacts to an unsolicited link loss: the in-flight
// transaction is aborted, the queue dropped, and the connection is either
// resumed or reset.
func (m *ConnectionManager) handleDisconnected(status gatt.Status) {
	m.logger.WithField("status", status).Info("Band disconnected")

	m.dispatcher.abortAll()
	wasInitialized := m.band.IsInitialized()
	m.setState(device.StateNotConnected)
	m.ReconnectOrReset(wasInitialized)
}

// ReconnectOrReset resumes a connection that had completed the handshake,
// and fully tears down anything else so the next Connect starts clean.
func (m *ConnectionManager) ReconnectOrReset(wasInitialized bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == 0 {
		return
	}
	if wasInitialized && m.reconnectLocked() {
		return
	}

	m.logger.WithField("handle", m.handle).Debug("Resetting connection")
	if err := m.radio.Disconnect(m.handle); err != nil {
		m.logger.WithField("error", err).Warn("Failed to release connection")
	}
	m.handle = 0
}

func (m *ConnectionManager) reconnectLocked() bool {
	if !m.autoReconnect {
		return false
	}
	if err := m.radio.Reconnect(m.handle); err != nil {
		m.logger.WithField("error", err).Warn("Reconnect request rejected")
		return false
	}
	m.logger.WithField("handle", m.handle).Info("Waiting for band to reconnect")
	m.setState(device.StateWaitingForReconnect)
	return true
}

// setState records a connection state transition and wakes a dispatcher
// waiting for the link.
func (m *ConnectionManager) setState(s device.State) {
	m.band.SetState(s)
	if s == device.StateConnected {
		m.dispatcher.signalConnected()
	}
}
