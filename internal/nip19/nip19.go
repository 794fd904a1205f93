// Package nip19 implements bech32 encoding of Nostr identifiers
// (npub, nsec, note).
package nip19

import (
	"encoding/hex"
	"errors"
	"strings"
)

// Bech32 charset
const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// Bech32Decode decodes a bech32 string into HRP and data
func Bech32Decode(bech string) (string, []byte, error) {
	if len(bech) < 8 {
		return "", nil, errors.New("too short")
	}

	// Find separator
	pos := strings.LastIndex(bech, "1")
	if pos < 1 || pos+7 > len(bech) {
		return "", nil, errors.New("invalid separator position")
	}

	hrp := bech[:pos]
	data := bech[pos+1:]

	// Decode data
	var values []byte
	for _, c := range data {
		idx := strings.IndexRune(bech32Charset, c)
		if idx == -1 {
			return "", nil, errors.New("invalid character")
		}
		values = append(values, byte(idx))
	}

	// Remove checksum (last 6 chars)
	if len(values) < 6 {
		return "", nil, errors.New("too short for checksum")
	}
	values = values[:len(values)-6]

	return hrp, values, nil
}

// Bech32ConvertBits converts between bit groups
func Bech32ConvertBits(data []byte, fromBits, toBits int, pad bool) ([]byte, error) {
	acc := 0
	bits := 0
	var ret []byte
	maxv := (1 << toBits) - 1

	for _, value := range data {
		acc = (acc << fromBits) | int(value)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			ret = append(ret, byte((acc>>bits)&maxv))
		}
	}

	if pad {
		if bits > 0 {
			ret = append(ret, byte((acc<<(toBits-bits))&maxv))
		}
	} else if bits >= fromBits || ((acc<<(toBits-bits))&maxv) != 0 {
		return nil, errors.New("invalid padding")
	}

	return ret, nil
}

// Bech32Encode encodes data with the given HRP
func Bech32Encode(hrp string, data []byte) (string, error) {
	// Create checksum
	values := append([]byte{}, data...)
	checksum := bech32CreateChecksum(hrp, values)
	combined := append(values, checksum...)

	// Build result
	var result strings.Builder
	result.WriteString(hrp)
	result.WriteByte('1')
	for _, v := range combined {
		result.WriteByte(bech32Charset[v])
	}

	return result.String(), nil
}

// bech32 polymod for checksum calculation
func bech32Polymod(values []int) int {
	gen := []int{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := 1
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ v
		for i := 0; i < 5; i++ {
			if (top>>i)&1 != 0 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func bech32HrpExpand(hrp string) []int {
	var ret []int
	for _, c := range hrp {
		ret = append(ret, int(c>>5))
	}
	ret = append(ret, 0)
	for _, c := range hrp {
		ret = append(ret, int(c&31))
	}
	return ret
}

func bech32CreateChecksum(hrp string, data []byte) []byte {
	values := bech32HrpExpand(hrp)
	for _, d := range data {
		values = append(values, int(d))
	}
	for i := 0; i < 6; i++ {
		values = append(values, 0)
	}
	polymod := bech32Polymod(values) ^ 1
	var checksum []byte
	for i := 0; i < 6; i++ {
		checksum = append(checksum, byte((polymod>>(5*(5-i)))&31))
	}
	return checksum
}

// decode32 decodes a bech32 string with the expected HRP into 32 raw bytes.
func decode32(bech, wantHrp string) ([]byte, error) {
	hrp, data, err := Bech32Decode(bech)
	if err != nil {
		return nil, err
	}
	if hrp != wantHrp {
		return nil, errors.New("invalid hrp for " + wantHrp)
	}

	// Convert 5-bit groups to 8-bit bytes
	decoded, err := Bech32ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(decoded) != 32 {
		return nil, errors.New("invalid " + wantHrp + " length")
	}
	return decoded, nil
}

// encode32 encodes 32 bytes of hex under the given HRP.
func encode32(hexStr, hrp string) (string, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", errors.New("invalid " + hrp + " length")
	}

	// Convert 8-bit bytes to 5-bit groups
	data, err := Bech32ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return Bech32Encode(hrp, data)
}

// EncodePubkey encodes a hex pubkey to npub format
func EncodePubkey(hexPubkey string) (string, error) {
	return encode32(hexPubkey, "npub")
}

// DecodePubkey decodes an npub1... string to a hex pubkey
func DecodePubkey(npub string) (string, error) {
	if !strings.HasPrefix(npub, "npub1") {
		return "", errors.New("not an npub")
	}
	raw, err := decode32(npub, "npub")
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// EncodeSecretKey encodes a hex secret key to nsec format
func EncodeSecretKey(hexSecret string) (string, error) {
	return encode32(hexSecret, "nsec")
}

// DecodeSecretKey decodes an nsec1... string to a hex secret key
func DecodeSecretKey(nsec string) (string, error) {
	if !strings.HasPrefix(nsec, "nsec1") {
		return "", errors.New("not an nsec")
	}
	raw, err := decode32(nsec, "nsec")
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// EncodeEventID encodes a hex event ID to note format
func EncodeEventID(hexEventID string) (string, error) {
	return encode32(hexEventID, "note")
}

// DecodeEventID decodes a note1... string to a hex event ID
func DecodeEventID(note string) (string, error) {
	if !strings.HasPrefix(note, "note1") {
		return "", errors.New("not a note")
	}
	raw, err := decode32(note, "note")
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
