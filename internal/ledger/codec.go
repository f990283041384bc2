package ledger

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Hash prefixes of the ledger's binary format.
var (
	prefixTransactionSign = []byte{0x53, 0x54, 0x58, 0x00} // STX\0
	prefixTransactionID   = []byte{0x54, 0x58, 0x4E, 0x00} // TXN\0
)

const (
	typeUInt16    = 1
	typeUInt32    = 2
	typeAmount    = 6
	typeBlob      = 7
	typeAccountID = 8

	fieldTransactionType    = 2
	fieldFlags              = 2
	fieldSequence           = 4
	fieldLastLedgerSequence = 27
	fieldAmount             = 1
	fieldFee                = 8
	fieldSigningPubKey      = 3
	fieldTxnSignature       = 4
	fieldAccount            = 1
	fieldDestination        = 3

	transactionTypePayment = 0
	flagFullyCanonicalSig  = 0x80000000

	maxDrops       = 100_000_000_000_000_000
	amountPositive = 0x4000000000000000
	maxSingleVL    = 192
	maxDoubleVL    = 12480
)

// paymentTx is an XRP-to-XRP Payment ready for canonical binary encoding.
type paymentTx struct {
	Account            []byte
	Destination        []byte
	AmountDrops        int64
	FeeDrops           int64
	Sequence           uint32
	LastLedgerSequence uint32
	SigningPubKey      []byte
	TxnSignature       []byte
}

// encode serializes the transaction with fields in canonical (type, field) order.
// The signature is left out when withSignature is false, which yields the signing payload.
func (tx paymentTx) encode(withSignature bool) ([]byte, error) {
	if len(tx.Account) != 20 || len(tx.Destination) != 20 {
		return nil, fmt.Errorf("account ids must be 20 bytes")
	}

	var buf bytes.Buffer

	writeFieldID(&buf, typeUInt16, fieldTransactionType)
	writeUint16(&buf, transactionTypePayment)

	writeFieldID(&buf, typeUInt32, fieldFlags)
	writeUint32(&buf, flagFullyCanonicalSig)
	writeFieldID(&buf, typeUInt32, fieldSequence)
	writeUint32(&buf, tx.Sequence)
	writeFieldID(&buf, typeUInt32, fieldLastLedgerSequence)
	writeUint32(&buf, tx.LastLedgerSequence)

	writeFieldID(&buf, typeAmount, fieldAmount)
	if err := writeDrops(&buf, tx.AmountDrops); err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	writeFieldID(&buf, typeAmount, fieldFee)
	if err := writeDrops(&buf, tx.FeeDrops); err != nil {
		return nil, fmt.Errorf("fee: %w", err)
	}

	writeFieldID(&buf, typeBlob, fieldSigningPubKey)
	if err := writeVL(&buf, tx.SigningPubKey); err != nil {
		return nil, err
	}
	if withSignature {
		writeFieldID(&buf, typeBlob, fieldTxnSignature)
		if err := writeVL(&buf, tx.TxnSignature); err != nil {
			return nil, err
		}
	}

	writeFieldID(&buf, typeAccountID, fieldAccount)
	if err := writeVL(&buf, tx.Account); err != nil {
		return nil, err
	}
	writeFieldID(&buf, typeAccountID, fieldDestination)
	if err := writeVL(&buf, tx.Destination); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// signingPayload is the data a key signs for this transaction.
func (tx paymentTx) signingPayload() ([]byte, error) {
	body, err := tx.encode(false)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), prefixTransactionSign...), body...), nil
}

// transactionHash is the identifying hash of a signed transaction blob.
func transactionHash(blob []byte) string {
	sum := sha512.Sum512(append(append([]byte(nil), prefixTransactionID...), blob...))
	return strings.ToUpper(hex.EncodeToString(sum[:32]))
}

func writeFieldID(buf *bytes.Buffer, typeCode, fieldCode byte) {
	switch {
	case typeCode < 16 && fieldCode < 16:
		buf.WriteByte(typeCode<<4 | fieldCode)
	case typeCode < 16:
		buf.WriteByte(typeCode << 4)
		buf.WriteByte(fieldCode)
	case fieldCode < 16:
		buf.WriteByte(fieldCode)
		buf.WriteByte(typeCode)
	default:
		buf.WriteByte(0)
		buf.WriteByte(typeCode)
		buf.WriteByte(fieldCode)
	}
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeDrops(buf *bytes.Buffer, drops int64) error {
	if drops <= 0 || drops > maxDrops {
		return fmt.Errorf("drops %d out of range", drops)
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(drops)|amountPositive)
	buf.Write(b[:])
	return nil
}

func writeVL(buf *bytes.Buffer, data []byte) error {
	n := len(data)
	switch {
	case n <= maxSingleVL:
		buf.WriteByte(byte(n))
	case n <= maxDoubleVL:
		n -= maxSingleVL + 1
		buf.WriteByte(byte(maxSingleVL + 1 + (n >> 8)))
		buf.WriteByte(byte(n & 0xFF))
	default:
		return fmt.Errorf("field of %d bytes is too long", len(data))
	}
	buf.Write(data)
	return nil
}
