package domain

import "encoding/json"

// Data carries the application payload of a packet. A Data with
// Empty == true marshals to an empty JSON object, matching the spec's
// "absent or empty-object when there is no payload" rule for ping/pong/ack
// packets.
type Data struct {
	Empty     bool
	Payload   json.RawMessage
	Timestamp float64
	Checksum  string
}

type dataWire struct {
	Payload   json.RawMessage `json:"payload"`
	Timestamp float64         `json:"timestamp"`
	Checksum  string          `json:"checksum"`
}

func (d Data) MarshalJSON() ([]byte, error) {
	if d.Empty {
		return []byte("{}"), nil
	}
	return json.Marshal(dataWire{
		Payload:   d.Payload,
		Timestamp: d.Timestamp,
		Checksum:  d.Checksum,
	})
}

func (d *Data) UnmarshalJSON(raw []byte) error {
	var wire dataWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	if len(wire.Payload) == 0 && wire.Checksum == "" && wire.Timestamp == 0 {
		*d = Data{Empty: true}
		return nil
	}
	*d = Data{
		Payload:   wire.Payload,
		Timestamp: wire.Timestamp,
		Checksum:  wire.Checksum,
	}
	return nil
}

// Packet is the canonical envelope described in spec.md §3 and §6.
type Packet struct {
	Sid  int        `json:"sid"`
	Type PacketType `json:"type"`
	To   Address    `json:"to"`
	From Address    `json:"from"`
	Data Data       `json:"data"`
}

// Clone returns a deep-enough copy of p safe to mutate independently (the
// history store and resend machinery must never alias a mutable packet).
func (p Packet) Clone() Packet {
	cp := p
	if len(p.Data.Payload) > 0 {
		cp.Data.Payload = append(json.RawMessage(nil), p.Data.Payload...)
	}
	return cp
}
