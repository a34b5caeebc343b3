package crypto

import (
	"crypto/md5" //nolint:gosec // corruption detection only, pinned by spec.md §4.1
	"encoding/base64"
	"encoding/hex"
)

// MD5Hex returns the hex-encoded MD5 digest of payload — the canonical
// checksum of spec.md §4.1. Callers must pass the exact bytes that will be
// sent on the wire as Data.Payload so sender and verifier agree.
func MD5Hex(payload []byte) string {
	sum := md5.Sum(payload) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// B64Encode / B64Decode implement the b64enc/b64dec helpers used for the
// out-of-band bootstrap identity blob (spec.md §4.1, §6).
func B64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func B64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
