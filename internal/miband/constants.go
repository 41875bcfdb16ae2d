package miband

import (
	"github.com/Micallam/MiBandPulse/internal/gatt"
)

// Standard services and characteristics used by the band.
var (
	ServiceCurrentTime = gatt.UUID16(0x1805)
	ServiceHeartRate   = gatt.UUID16(0x180d)
	ServiceMiBand      = gatt.UUID16(0xfee0)
	ServiceMiBand2     = gatt.UUID16(0xfee1)

	CurrentTime           = gatt.UUID16(0x2a2b)
	HeartRateMeasurement  = gatt.UUID16(0x2a37)
	HeartRateControlPoint = gatt.UUID16(0x2a39)
	Notification          = gatt.UUID16(0xff03)
	ConnectionParameters  = gatt.UUID16(0xff09)
	DateTime              = gatt.UUID16(0xff0a)
	PairCharacteristic    = gatt.UUID16(0xff0f)
)

// Vendor characteristics share the 0000xxxx-0000-3512-2118-0009af100700 base.
var (
	Configuration = gatt.MustParseUUID("00000003-0000-3512-2118-0009af100700")
	Fetch         = gatt.MustParseUUID("00000004-0000-3512-2118-0009af100700")
	ActivityData  = gatt.MustParseUUID("00000005-0000-3512-2118-0009af100700")
	BatteryInfo   = gatt.MustParseUUID("00000006-0000-3512-2118-0009af100700")
	Auth          = gatt.MustParseUUID("00000009-0000-3512-2118-0009af100700")
	DeviceEvent   = gatt.MustParseUUID("00000010-0000-3512-2118-0009af100700")
	Audio         = gatt.MustParseUUID("00000012-0000-3512-2118-0009af100700")
	AudioData     = gatt.MustParseUUID("00000013-0000-3512-2118-0009af100700")
)

// Auth exchange bytes.
const (
	authByte           byte = 0x00
	cryptFlags         byte = 0x00
	authSendKey        byte = 0x01
	authRequestRandom  byte = 0x02
	authSendEncrypted  byte = 0x03
	authResponse       byte = 0x10
	authSuccess        byte = 0x01
	authChallengeStart      = 3
	authChallengeLen        = 16
)

// Heart rate control point commands.
const (
	cmdHeartRateMeasure  byte = 0x15
	cmdHeartRateInterval byte = 0x14
	hrModeContinuous     byte = 0x01
	hrModeManual         byte = 0x02

	maxHeartRateIntervalMinutes = 120
)

var (
	stopHeartMeasurementManual      = []byte{cmdHeartRateMeasure, hrModeManual, 0}
	startHeartMeasurementManual     = []byte{cmdHeartRateMeasure, hrModeManual, 1}
	startHeartMeasurementContinuous = []byte{cmdHeartRateMeasure, hrModeContinuous, 1}
	stopHeartMeasurementContinuous  = []byte{cmdHeartRateMeasure, hrModeContinuous, 0}
)

// Activity fetch commands and replies.
const (
	cmdActivityDataStartDate byte = 0x01
	activityDataTypeActivity byte = 0x01
	cmdFetchData             byte = 0x02
)

var (
	responseActivityStartDateSuccess = []byte{0x10, 0x01, 0x01}
	responseFinishSuccess            = []byte{0x10, 0x02, 0x01}
)

// DefaultAuthKey is the handshake secret the band is provisioned with out of the box.
var DefaultAuthKey = []byte{0x30, 0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39, 0x40, 0x41, 0x42, 0x43, 0x44, 0x45}

func init() {
	gatt.RegisterName(ServiceMiBand, "Mi Band Service")
	gatt.RegisterName(ServiceMiBand2, "Mi Band 2 Service")
	gatt.RegisterName(Notification, "Mi Band Notification")
	gatt.RegisterName(ConnectionParameters, "LE Connection Parameters")
	gatt.RegisterName(DateTime, "Mi Band Date Time")
	gatt.RegisterName(PairCharacteristic, "Mi Band Pair")
	gatt.RegisterName(Configuration, "Mi Band Configuration")
	gatt.RegisterName(Fetch, "Mi Band Fetch")
	gatt.RegisterName(ActivityData, "Mi Band Activity Data")
	gatt.RegisterName(BatteryInfo, "Mi Band Battery Info")
	gatt.RegisterName(Auth, "Mi Band Auth")
	gatt.RegisterName(DeviceEvent, "Mi Band Device Event")
	gatt.RegisterName(Audio, "Mi Band Audio")
	gatt.RegisterName(AudioData, "Mi Band Audio Data")
}
