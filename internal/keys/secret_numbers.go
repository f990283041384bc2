package keys

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/kursadbilgin/payout-engine/internal/domain"
)

const (
	secretNumberGroups    = 8
	secretNumberDigits    = 6
	secretNumberMaxValue  = 0xFFFF
	secretNumberChecksums = 9
)

// ParseSecretNumbers splits a raw secret numbers string. Groups may be separated by
// whitespace, commas or dashes, or given as one 48-digit string.
func ParseSecretNumbers(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ',' || r == '-' || r == '\t' || r == '\n'
	})

	if len(fields) == 1 && len(fields[0]) == secretNumberGroups*secretNumberDigits {
		joined := fields[0]
		fields = make([]string, 0, secretNumberGroups)
		for i := 0; i < len(joined); i += secretNumberDigits {
			fields = append(fields, joined[i:i+secretNumberDigits])
		}
	}
	return fields
}

// SeedFromSecretNumbers converts eight checksummed six-digit groups into a secp256k1 family seed.
func SeedFromSecretNumbers(numbers []string) (string, error) {
	if len(numbers) != secretNumberGroups {
		return "", fmt.Errorf("%w: want %d groups, got %d", ErrInvalidSecretNumbers, secretNumberGroups, len(numbers))
	}

	entropy := make([]byte, 0, entropyLen)
	for i, group := range numbers {
		group = strings.TrimSpace(group)
		if len(group) != secretNumberDigits {
			return "", fmt.Errorf("%w: group %d must have %d digits", ErrInvalidSecretNumbers, i+1, secretNumberDigits)
		}

		value, err := strconv.Atoi(group[:secretNumberDigits-1])
		if err != nil || value < 0 || value > secretNumberMaxValue {
			return "", fmt.Errorf("%w: group %d is out of range", ErrInvalidSecretNumbers, i+1)
		}
		checksum, err := strconv.Atoi(group[secretNumberDigits-1:])
		if err != nil || checksum != secretNumberChecksum(i, value) {
			return "", fmt.Errorf("%w: group %d has a bad checksum", ErrInvalidSecretNumbers, i+1)
		}

		entropy = binary.BigEndian.AppendUint16(entropy, uint16(value))
	}

	return EncodeSeed(entropy, domain.KeyTypeSecp256k1)
}

// SecretNumbersFromEntropy renders 16 bytes of seed entropy as secret numbers.
func SecretNumbersFromEntropy(entropy []byte) ([]string, error) {
	if len(entropy) != entropyLen {
		return nil, fmt.Errorf("%w: entropy must be %d bytes", ErrInvalidSecretNumbers, entropyLen)
	}

	out := make([]string, 0, secretNumberGroups)
	for i := 0; i < secretNumberGroups; i++ {
		value := int(binary.BigEndian.Uint16(entropy[i*2:]))
		out = append(out, fmt.Sprintf("%05d%d", value, secretNumberChecksum(i, value)))
	}
	return out, nil
}

func secretNumberChecksum(position int, value int) int {
	return (value * (position*2 + 1)) % secretNumberChecksums
}
