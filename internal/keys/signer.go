package keys

import (
	"crypto/ed25519"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/kursadbilgin/payout-engine/internal/domain"
)

const ed25519KeyPrefix = 0xED

// KeyPair is the signing key of a funding account. The private half never leaves the process.
type KeyPair struct {
	keyType   domain.KeyType
	publicKey []byte
	address   string

	ed25519Key   ed25519.PrivateKey
	secp256k1Key *btcec.PrivateKey
}

// KeyPairFromSeed derives the signing key pair for an encoded family seed.
func KeyPairFromSeed(seed string) (*KeyPair, error) {
	entropy, keyType, err := decodeSeed(seed)
	if err != nil {
		return nil, err
	}

	pair := &KeyPair{keyType: keyType}
	switch keyType {
	case domain.KeyTypeEd25519:
		pair.ed25519Key = deriveEd25519Key(entropy)
		public := pair.ed25519Key.Public().(ed25519.PublicKey)
		pair.publicKey = append([]byte{ed25519KeyPrefix}, public...)
	default:
		pair.secp256k1Key, err = deriveSecp256k1Key(entropy)
		if err != nil {
			return nil, err
		}
		pair.publicKey = pair.secp256k1Key.PubKey().SerializeCompressed()
	}

	pair.address = addressFromPublicKey(pair.publicKey)
	if !IsValidAddress(pair.address) {
		return nil, fmt.Errorf("%w: derived address %q failed validation", ErrInvalidSeed, pair.address)
	}
	return pair, nil
}

func (k *KeyPair) KeyType() domain.KeyType { return k.keyType }

func (k *KeyPair) Address() string { return k.address }

// PublicKey returns the 33-byte public key in ledger encoding (0xED-prefixed for ed25519).
func (k *KeyPair) PublicKey() []byte {
	return append([]byte(nil), k.publicKey...)
}

// Sign signs the transaction signing data. secp256k1 keys sign its SHA-512Half with a
// canonical low-S DER signature; ed25519 keys sign the data itself.
func (k *KeyPair) Sign(message []byte) ([]byte, error) {
	switch {
	case k == nil:
		return nil, ErrNoSecret
	case k.ed25519Key != nil:
		return ed25519.Sign(k.ed25519Key, message), nil
	case k.secp256k1Key != nil:
		return ecdsa.Sign(k.secp256k1Key, sha512Half(message)).Serialize(), nil
	default:
		return nil, ErrNoSecret
	}
}

// Verify checks a signature produced by Sign.
func (k *KeyPair) Verify(message, signature []byte) bool {
	switch {
	case k == nil:
		return false
	case k.ed25519Key != nil:
		return ed25519.Verify(k.ed25519Key.Public().(ed25519.PublicKey), message, signature)
	case k.secp256k1Key != nil:
		sig, err := ecdsa.ParseDERSignature(signature)
		if err != nil {
			return false
		}
		return sig.Verify(sha512Half(message), k.secp256k1Key.PubKey())
	default:
		return false
	}
}
