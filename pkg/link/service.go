package link

import "fmt"

// Gauge service and characteristic UUIDs.
const (
	GaugeServiceUUID = "6e400001-b5a3-4f39-9c5b-8d0d2f1e0b46"
	StatusUUID       = "6e400002-b5a3-4f39-9c5b-8d0d2f1e0b46" // human readable summary, notify
	BoostUUID        = "6e400003-b5a3-4f39-9c5b-8d0d2f1e0b46" // boost mV, int32 LE, notify
	LDOUUID          = "6e400004-b5a3-4f39-9c5b-8d0d2f1e0b46" // LDO mV, int32 LE, notify
	LDOSetUUID       = "6e400005-b5a3-4f39-9c5b-8d0d2f1e0b46" // LDO setpoint, 2 byte BCD, write
	SoCUUID          = "6e400006-b5a3-4f39-9c5b-8d0d2f1e0b46" // state of charge %, uint32 LE, notify
)

// Handles names the characteristics of the gauge service.
type Handles struct {
	Status Handle
	Boost  Handle
	LDO    Handle
	LDOSet Handle
	SoC    Handle
}

// Notifiable returns the handles of the notify characteristics in send order.
func (h Handles) Notifiable() []Handle {
	return []Handle{h.Boost, h.LDO, h.SoC, h.Status}
}

// GaugeService returns the gauge service definition.
func GaugeService() *Service {
	return &Service{
		UUID: GaugeServiceUUID,
		Characteristics: []Characteristic{
			{Name: "status", UUID: StatusUUID, Notify: true},
			{Name: "boost", UUID: BoostUUID, Notify: true},
			{Name: "ldo", UUID: LDOUUID, Notify: true},
			{Name: "ldo_set", UUID: LDOSetUUID, Write: true},
			{Name: "soc", UUID: SoCUUID, Notify: true},
		},
	}
}

// RegisterGaugeService registers the gauge service on s and returns its handles.
func RegisterGaugeService(s Stack) (Handles, error) {
	svc := GaugeService()
	if err := s.Register(svc); err != nil {
		return Handles{}, fmt.Errorf("register gauge service: %w", err)
	}

	var h Handles
	for _, c := range svc.Characteristics {
		if c.Handle == InvalidHandle {
			return Handles{}, fmt.Errorf("register gauge service: %s: %w", c.Name, ErrUnknownHandle)
		}
		switch c.UUID {
		case StatusUUID:
			h.Status = c.Handle
		case BoostUUID:
			h.Boost = c.Handle
		case LDOUUID:
			h.LDO = c.Handle
		case LDOSetUUID:
			h.LDOSet = c.Handle
		case SoCUUID:
			h.SoC = c.Handle
		}
	}
	return h, nil
}
