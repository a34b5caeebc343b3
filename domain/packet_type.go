package domain

import "encoding/json"

// PacketType is a (category, subcode) pair drawn from the closed
// enumeration in spec.md §3. The zero value is not a valid type; always use
// one of the Type* constants below.
type PacketType struct {
	Category int `json:"0"`
	Subcode  int `json:"1"`
}

func (t PacketType) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{t.Category, t.Subcode})
}

func (t *PacketType) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	t.Category, t.Subcode = pair[0], pair[1]
	return nil
}

// Unsequenced reports whether packets of this type are transport-level
// keepalive/probe traffic: never stored in HistoryStore, sid fixed at -1 or
// assigned without storage (spec.md §3, §4.2).
func (t PacketType) Unsequenced() bool {
	return t.Category == 0 || t.Category == -1
}

var (
	TypeTestConnect = PacketType{-1, 0}

	TypePing = PacketType{0, 1}
	TypePong = PacketType{0, 2}

	TypeControlStop         = PacketType{1, 0}
	TypeControlReload       = PacketType{1, 1}
	TypeControlMaintenance  = PacketType{1, 2}
	TypeControlResume       = PacketType{1, 3}

	TypeRegister      = PacketType{2, 0}
	TypeRegistered    = PacketType{2, 1}
	TypeRegisterError = PacketType{2, 2}

	TypeLogin        = PacketType{3, 0}
	TypeLoggedIn     = PacketType{3, 1}
	TypeNewLogin     = PacketType{3, 2}
	TypeDelLogin     = PacketType{3, 3}
	TypeLoginError   = PacketType{3, 4}

	TypeDataSend   = PacketType{4, 0}
	TypeDataSendOK = PacketType{4, 1}
	TypeDataError  = PacketType{4, 2}

	TypeFileBegin = PacketType{5, 0}
	TypeFileChunk = PacketType{5, 1}
	TypeFileEnd   = PacketType{5, 2}
	TypeFileError = PacketType{5, 3}
)
