package testutils

import (
	"fmt"
	"strings"

	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// CharacteristicConfig describes one characteristic of a fake band profile.
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write,notify"
	// CCCD adds a client characteristic configuration descriptor; it defaults
	// to true for notify and indicate characteristics.
	CCCD *bool `json:"cccd,omitempty"`
}

// ServiceConfig describes one service of a fake band profile.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// ProfileConfig is the complete GATT layout a FakeRadio discovers.
type ProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// ProfileBuilder builds the discovered service tree for a FakeRadio.
type ProfileBuilder struct {
	profile ProfileConfig
}

func NewProfileBuilder() *ProfileBuilder {
	return &ProfileBuilder{}
}

// WithService adds a service to the profile
func (b *ProfileBuilder) WithService(id string) *ProfileBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: id})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *ProfileBuilder) WithCharacteristic(id, properties string) *ProfileBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics,
		CharacteristicConfig{UUID: id, Properties: properties})
	return b
}

// FromJSON replaces the profile with the given JSON document
func (b *ProfileBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *ProfileBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config ProfileConfig
	if err := jsoniter.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("ProfileBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = config
	return b
}

// Build converts the profile into discovered services.
func (b *ProfileBuilder) Build() []*gatt.Service {
	services := make([]*gatt.Service, 0, len(b.profile.Services))
	for _, sc := range b.profile.Services {
		svc := &gatt.Service{UUID: gatt.MustParseUUID(sc.UUID)}
		for _, cc := range sc.Characteristics {
			props := ParseProperties(cc.Properties)
			c := &gatt.Characteristic{
				UUID:       gatt.MustParseUUID(cc.UUID),
				Service:    svc.UUID,
				Properties: props,
			}
			hasCCCD := props.Has(gatt.PropNotify) || props.Has(gatt.PropIndicate)
			if cc.CCCD != nil {
				hasCCCD = *cc.CCCD
			}
			if hasCCCD {
				c.Descriptors = []uuid.UUID{gatt.ClientCharacteristicConfig}
			}
			svc.Characteristics = append(svc.Characteristics, c)
		}
		services = append(services, svc)
	}
	return services
}

// BuildRadio returns a FakeRadio that discovers this profile.
func (b *ProfileBuilder) BuildRadio() *FakeRadio {
	return NewFakeRadio(b.Build()...)
}

// ParseProperties converts a comma separated property list into flags.
// An empty list means read, write and notify.
func ParseProperties(props string) gatt.Property {
	if strings.TrimSpace(props) == "" {
		return gatt.PropRead | gatt.PropWrite | gatt.PropNotify
	}

	var p gatt.Property
	for _, name := range strings.Split(props, ",") {
		switch strings.TrimSpace(name) {
		case "broadcast":
			p |= gatt.PropBroadcast
		case "read":
			p |= gatt.PropRead
		case "write-without-response", "writeNoResp":
			p |= gatt.PropWriteNoResponse
		case "write":
			p |= gatt.PropWrite
		case "notify":
			p |= gatt.PropNotify
		case "indicate":
			p |= gatt.PropIndicate
		default:
			panic(fmt.Sprintf("unknown characteristic property %q", name))
		}
	}
	return p
}
