package domain

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// KeyType is the signing algorithm of a funding identity.
type KeyType string

const (
	KeyTypeSecp256k1 KeyType = "secp256k1"
	KeyTypeEd25519   KeyType = "ed25519"
)

func (k KeyType) String() string { return string(k) }

// Identity is the funding account credential together with its classic address.
// The address is always the one derived from the secret; construct it with NewIdentity.
type Identity struct {
	Address string
	KeyType KeyType
	secret  string
}

func NewIdentity(address string, keyType KeyType, secret string) Identity {
	return Identity{
		Address: address,
		KeyType: keyType,
		secret:  secret,
	}
}

// Secret returns the encoded family seed. It is only used to derive the signing key in process.
func (i Identity) Secret() string {
	return i.secret
}

func (i Identity) String() string {
	return fmt.Sprintf("%s (%s)", i.Address, i.KeyType)
}

func (i Identity) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("address", i.Address)
	enc.AddString("keyType", i.KeyType.String())
	return nil
}
