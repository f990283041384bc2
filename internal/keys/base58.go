package keys

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"math/big"
)

// ledgerAlphabet is the base58 dictionary used for ledger addresses and seeds.
const ledgerAlphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

const checksumLen = 4

var (
	errInvalidCharacter = errors.New("invalid base58 character")
	errInvalidChecksum  = errors.New("invalid base58 checksum")

	bigRadix = big.NewInt(58)
	bigZero  = big.NewInt(0)

	alphabetIndex = buildAlphabetIndex()
)

func buildAlphabetIndex() [256]int {
	var idx [256]int
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(ledgerAlphabet); i++ {
		idx[ledgerAlphabet[i]] = i
	}
	return idx
}

func encodeBase58(b []byte) string {
	x := new(big.Int).SetBytes(b)

	out := make([]byte, 0, len(b)*138/100+1)
	mod := new(big.Int)
	for x.Cmp(bigZero) > 0 {
		x.DivMod(x, bigRadix, mod)
		out = append(out, ledgerAlphabet[mod.Int64()])
	}

	for _, v := range b {
		if v != 0 {
			break
		}
		out = append(out, ledgerAlphabet[0])
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func decodeBase58(s string) ([]byte, error) {
	x := new(big.Int)
	for i := 0; i < len(s); i++ {
		v := alphabetIndex[s[i]]
		if v < 0 {
			return nil, errInvalidCharacter
		}
		x.Mul(x, bigRadix)
		x.Add(x, big.NewInt(int64(v)))
	}

	decoded := x.Bytes()
	zeros := 0
	for zeros < len(s) && s[zeros] == ledgerAlphabet[0] {
		zeros++
	}

	out := make([]byte, zeros+len(decoded))
	copy(out[zeros:], decoded)
	return out, nil
}

func doubleSHA256Checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:checksumLen]
}

func encodeCheck(payload []byte) string {
	buf := make([]byte, 0, len(payload)+checksumLen)
	buf = append(buf, payload...)
	buf = append(buf, doubleSHA256Checksum(payload)...)
	return encodeBase58(buf)
}

func decodeCheck(s string) ([]byte, error) {
	raw, err := decodeBase58(s)
	if err != nil {
		return nil, err
	}
	if len(raw) <= checksumLen {
		return nil, errInvalidChecksum
	}

	payload, sum := raw[:len(raw)-checksumLen], raw[len(raw)-checksumLen:]
	if !bytes.Equal(doubleSHA256Checksum(payload), sum) {
		return nil, errInvalidChecksum
	}
	return payload, nil
}
