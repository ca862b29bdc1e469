// Package addr formats the pay-to-pubkey-hash addresses a wallet built on
// top of this node would display: RIPEMD160(SHA256(pubkey)) hashing via
// golang.org/x/crypto/ripemd160, then Base58Check with the network's
// version byte. Computing the SHA-256 digest of a public key itself, and
// anything involving private keys or signing, is the external key-
// management layer's job; this package only takes an already-hashed
// pubkey and formats/parses the resulting address string.
package addr

import (
	"errors"
	"math/big"

	"golang.org/x/crypto/ripemd160"

	"rubin.dev/spvnode/wire"
)

const checksumLen = 4

var base58Alphabet = []byte("123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz")

// Hash160 computes RIPEMD160(sha256Hash), the public-key-hash step of
// P2PKH address derivation. sha256Hash is the caller-supplied SHA-256
// digest of a serialized public key.
func Hash160(sha256Hash [32]byte) [20]byte {
	h := ripemd160.New()
	h.Write(sha256Hash[:])
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Encode formats a P2PKH address: version byte, 20-byte pubkey hash, and
// a 4-byte double-SHA-256 checksum, Base58-encoded.
func Encode(version byte, pubKeyHash [20]byte) string {
	payload := make([]byte, 0, 1+20+checksumLen)
	payload = append(payload, version)
	payload = append(payload, pubKeyHash[:]...)
	checksum := wire.DoubleSHA256(payload)
	payload = append(payload, checksum[:checksumLen]...)
	return base58Encode(payload)
}

// Decode parses a Base58Check address, verifying its checksum and
// returning the version byte and 20-byte pubkey hash.
func Decode(address string) (version byte, pubKeyHash [20]byte, err error) {
	payload, err := base58Decode(address)
	if err != nil {
		return 0, pubKeyHash, err
	}
	if len(payload) != 1+20+checksumLen {
		return 0, pubKeyHash, errors.New("addr: decoded payload has wrong length")
	}
	body := payload[:len(payload)-checksumLen]
	wantChecksum := payload[len(payload)-checksumLen:]
	gotChecksum := wire.DoubleSHA256(body)
	for i := 0; i < checksumLen; i++ {
		if gotChecksum[i] != wantChecksum[i] {
			return 0, pubKeyHash, errors.New("addr: checksum mismatch")
		}
	}
	version = body[0]
	copy(pubKeyHash[:], body[1:])
	return version, pubKeyHash, nil
}

var bigRadix = big.NewInt(58)

func base58Encode(input []byte) string {
	zeroCount := 0
	for zeroCount < len(input) && input[zeroCount] == 0 {
		zeroCount++
	}

	num := new(big.Int).SetBytes(input)
	mod := new(big.Int)
	var out []byte
	for num.Sign() > 0 {
		num.DivMod(num, bigRadix, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	for i := 0; i < zeroCount; i++ {
		out = append(out, base58Alphabet[0])
	}
	reverse(out)
	return string(out)
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

func base58Decode(s string) ([]byte, error) {
	index := make(map[byte]int, len(base58Alphabet))
	for i, c := range base58Alphabet {
		index[c] = i
	}

	zeroCount := 0
	for zeroCount < len(s) && s[zeroCount] == base58Alphabet[0] {
		zeroCount++
	}

	num := new(big.Int)
	for i := 0; i < len(s); i++ {
		digit, ok := index[s[i]]
		if !ok {
			return nil, errors.New("addr: invalid base58 character")
		}
		num.Mul(num, bigRadix)
		num.Add(num, big.NewInt(int64(digit)))
	}

	body := num.Bytes()
	out := make([]byte, zeroCount+len(body))
	copy(out[zeroCount:], body)
	return out, nil
}
