// Package keys derives the funding identity (classic address plus signing secret)
// from a family seed or from secret numbers, and signs transactions with it locally.
package keys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/kursadbilgin/payout-engine/internal/domain"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // account ids are defined over RIPEMD-160
)

const (
	entropyLen   = 16
	accountIDLen = 20
)

var (
	ErrNoSecret             = errors.New("no secret material configured")
	ErrInvalidSeed          = errors.New("invalid family seed")
	ErrInvalidSecretNumbers = errors.New("invalid secret numbers")
	ErrAddressMismatch      = errors.New("derived address does not match configured account")

	secp256k1SeedPrefix = []byte{0x21}
	ed25519SeedPrefix   = []byte{0x01, 0xE1, 0x4B}
	accountIDPrefix     = []byte{0x00}
)

// Material is the secret input for Derive. FamilySeed wins when both are set.
type Material struct {
	FamilySeed    string
	SecretNumbers []string
	// Account, when set, must equal the derived address.
	Account string
}

// Derive builds the funding identity from secret material and validates the resulting address.
func Derive(m Material) (domain.Identity, error) {
	seed := strings.TrimSpace(m.FamilySeed)
	if seed == "" && len(m.SecretNumbers) > 0 {
		encoded, err := SeedFromSecretNumbers(m.SecretNumbers)
		if err != nil {
			return domain.Identity{}, err
		}
		seed = encoded
	}
	if seed == "" {
		return domain.Identity{}, ErrNoSecret
	}

	identity, err := FromSeed(seed)
	if err != nil {
		return domain.Identity{}, err
	}

	if account := strings.TrimSpace(m.Account); account != "" && account != identity.Address {
		return domain.Identity{}, fmt.Errorf("%w: derived %s, configured %s", ErrAddressMismatch, identity.Address, account)
	}
	return identity, nil
}

// FromSeed derives the identity for an encoded family seed (s... or sEd...).
func FromSeed(seed string) (domain.Identity, error) {
	pair, err := KeyPairFromSeed(seed)
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.NewIdentity(pair.Address(), pair.KeyType(), strings.TrimSpace(seed)), nil
}

// IsValidAddress reports whether s is a well-formed classic address with a valid checksum.
func IsValidAddress(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || s[0] != ledgerAlphabet[0] {
		return false
	}

	payload, err := decodeCheck(s)
	if err != nil {
		return false
	}
	return len(payload) == len(accountIDPrefix)+accountIDLen && bytes.HasPrefix(payload, accountIDPrefix)
}

// DecodeAddress returns the 20-byte account id behind a classic address.
func DecodeAddress(address string) ([]byte, error) {
	address = strings.TrimSpace(address)
	if !IsValidAddress(address) {
		return nil, fmt.Errorf("%w: invalid address %q", domain.ErrValidation, address)
	}

	payload, err := decodeCheck(address)
	if err != nil {
		return nil, err
	}
	return payload[len(accountIDPrefix):], nil
}

// EncodeSeed encodes raw seed entropy as a family seed of the given key type.
func EncodeSeed(entropy []byte, keyType domain.KeyType) (string, error) {
	if len(entropy) != entropyLen {
		return "", fmt.Errorf("%w: entropy must be %d bytes", ErrInvalidSeed, entropyLen)
	}

	prefix := secp256k1SeedPrefix
	if keyType == domain.KeyTypeEd25519 {
		prefix = ed25519SeedPrefix
	}

	payload := make([]byte, 0, len(prefix)+entropyLen)
	payload = append(payload, prefix...)
	payload = append(payload, entropy...)
	return encodeCheck(payload), nil
}

func decodeSeed(seed string) ([]byte, domain.KeyType, error) {
	payload, err := decodeCheck(strings.TrimSpace(seed))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}

	switch {
	case len(payload) == len(ed25519SeedPrefix)+entropyLen && bytes.HasPrefix(payload, ed25519SeedPrefix):
		return payload[len(ed25519SeedPrefix):], domain.KeyTypeEd25519, nil
	case len(payload) == len(secp256k1SeedPrefix)+entropyLen && bytes.HasPrefix(payload, secp256k1SeedPrefix):
		return payload[len(secp256k1SeedPrefix):], domain.KeyTypeSecp256k1, nil
	default:
		return nil, "", fmt.Errorf("%w: unknown seed encoding", ErrInvalidSeed)
	}
}

func deriveEd25519Key(entropy []byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(sha512Half(entropy))
}

// deriveSecp256k1Key follows the family generator scheme: a root scalar from the
// seed, then the account scalar for index 0 tweaked by the root public generator.
func deriveSecp256k1Key(entropy []byte) (*btcec.PrivateKey, error) {
	order := btcec.S256().Params().N

	root, err := deriveScalar(entropy, nil, order)
	if err != nil {
		return nil, err
	}
	_, rootPublic := btcec.PrivKeyFromBytes(scalarBytes(root))

	accountIndex := uint32(0)
	tweak, err := deriveScalar(rootPublic.SerializeCompressed(), &accountIndex, order)
	if err != nil {
		return nil, err
	}

	private := new(big.Int).Add(root, tweak)
	private.Mod(private, order)

	key, _ := btcec.PrivKeyFromBytes(scalarBytes(private))
	return key, nil
}

func deriveScalar(data []byte, discriminator *uint32, order *big.Int) (*big.Int, error) {
	var buf [4]byte
	for i := uint64(0); i <= 0xFFFFFFFF; i++ {
		h := sha512.New()
		h.Write(data)
		if discriminator != nil {
			binary.BigEndian.PutUint32(buf[:], *discriminator)
			h.Write(buf[:])
		}
		binary.BigEndian.PutUint32(buf[:], uint32(i))
		h.Write(buf[:])

		candidate := new(big.Int).SetBytes(h.Sum(nil)[:32])
		if candidate.Sign() > 0 && candidate.Cmp(order) < 0 {
			return candidate, nil
		}
	}
	return nil, fmt.Errorf("%w: no valid scalar", ErrInvalidSeed)
}

func addressFromPublicKey(publicKey []byte) string {
	sha := sha256.Sum256(publicKey)
	r := ripemd160.New()
	r.Write(sha[:])

	payload := make([]byte, 0, len(accountIDPrefix)+accountIDLen)
	payload = append(payload, accountIDPrefix...)
	payload = append(payload, r.Sum(nil)...)
	return encodeCheck(payload)
}

func sha512Half(data []byte) []byte {
	sum := sha512.Sum512(data)
	return sum[:32]
}

func scalarBytes(k *big.Int) []byte {
	out := make([]byte, 32)
	k.FillBytes(out)
	return out
}
