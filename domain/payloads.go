package domain

// LoginPayload is carried by a (3,0) login packet: the connecting peer's
// self-reported metadata for the broker's membership view (spec.md §4.5).
type LoginPayload struct {
	Info ServerInfo `json:"info"`
}

// MembershipPayload is carried by (3,2) new-login and (3,3) del-login
// broadcasts. A (3,1) logged-in reply carries LoggedInPayload instead.
type MembershipPayload struct {
	ServerID string     `json:"server_id"`
	Info     ServerInfo `json:"info,omitempty"`
}

// LoggedInPayload is carried by a (3,1) logged-in reply: the full
// membership the broker currently knows about, so a resuming peer doesn't
// have to wait for individual new-login broadcasts to rebuild its view.
type LoggedInPayload struct {
	Members []string `json:"members"`
}

// ErrorPayload carries a short machine-readable reason on (2,2)
// register-error, (3,4) login-error, (4,2) data-error and (5,3) file-error
// packets.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

// FileBeginPayload is carried by a (5,0) file-begin packet.
type FileBeginPayload struct {
	FileName string `json:"file_name"`
	SavePath string `json:"save_path"`
	Hash     string `json:"hash"`
}

// FileChunkPayload is carried by a (5,1) file-chunk packet: a hex-encoded
// slice of the file, nominally 1 MiB.
type FileChunkPayload struct {
	Chunk string `json:"chunk"`
}
