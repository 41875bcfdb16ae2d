package btle_test

import (
	"testing"

	"github.com/Micallam/MiBandPulse/internal/btle"
	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/Micallam/MiBandPulse/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingQueue struct {
	added []*btle.Transaction
}

func (q *recordingQueue) Add(tx *btle.Transaction) error {
	q.added = append(q.added, tx)
	return nil
}

func TestBuilder_OrderAndMissingCharacteristics(t *testing.T) {
	// GOAL: Actions MUST keep insertion order; missing characteristics MUST be skipped
	//
	// TEST SCENARIO: Chain with two nil lookups → only concrete actions recorded, in order

	helper := testutils.NewTestHelper(t)
	band := device.NewBand(testutils.BandAddress, "MI", helper.Logger)
	control := newChar(0x2a39, gatt.PropWrite, false)
	measurement := newChar(0x2a37, gatt.PropNotify, true)
	h := &btle.Handlers{}

	tx := btle.NewBuilder("enable heart rate", helper.Logger).
		SetState(band, device.StateInitializing).
		Notify(measurement, true).
		Read(nil).
		Write(control, []byte{0x15, 0x01, 0x01}).
		WriteWithHandlers(nil, []byte{0x01}, h).
		Notify(nil, true).
		SetBusy(band, "").
		SetHandlers(h).
		Transaction()

	actions := tx.Actions()
	require.Len(t, actions, 4)
	assert.IsType(t, &btle.SetDeviceStateAction{}, actions[0])
	assert.IsType(t, &btle.NotifyAction{}, actions[1])
	assert.IsType(t, &btle.WriteAction{}, actions[2])
	assert.IsType(t, &btle.SetDeviceBusyAction{}, actions[3])
	assert.Same(t, h, tx.Handlers())
	assert.Equal(t, "enable heart rate", tx.Name())
	assert.False(t, tx.IsEmpty())
}

func TestBuilder_QueueOnce(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	band := device.NewBand(testutils.BandAddress, "MI", helper.Logger)
	d := btle.NewDispatcher(band, func() btle.Conn { return btle.Conn{} }, helper.Logger)

	b := btle.NewBuilder("set time", helper.Logger).Write(newChar(0x2a2b, gatt.PropWrite, false), []byte{0x01})
	require.NoError(t, b.Queue(d))
	assert.Equal(t, 1, d.QueueLen())

	err := b.Queue(d)
	assert.ErrorIs(t, err, device.ErrTransactionReused, "a transaction MUST NOT be queued twice")
	assert.Equal(t, 1, d.QueueLen())
}

func TestBuilder_EmptyTransactionIsDropped(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	band := device.NewBand(testutils.BandAddress, "MI", helper.Logger)
	d := btle.NewDispatcher(band, func() btle.Conn { return btle.Conn{} }, helper.Logger)

	assert.NoError(t, btle.NewBuilder("nothing", helper.Logger).Read(nil).Queue(d))
	assert.Equal(t, 0, d.QueueLen(), "an empty transaction MUST NOT be queued")
}

func TestBuilder_QueueUsesQueuer(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	q := &recordingQueue{}

	b := btle.NewBuilder("wait", helper.Logger).Wait(0)
	require.NoError(t, b.Queue(q))
	require.Len(t, q.added, 1)
	assert.Same(t, b.Transaction(), q.added[0])
}
