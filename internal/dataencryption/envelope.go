// Package dataencryption seals individual text fields with AES-256-GCM.
//
// At-rest format of one field:
//
//	hex(iv) ":" hex(tag) ":" hex(ciphertext)
//
// iv is 12 bytes, tag is 16 bytes. An empty stored value means "no value".
package dataencryption

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	ivSize  = 12
	tagSize = 16

	separator = ":"
)

// NoValue is what Encrypt returns for empty input and what Decrypt accepts as absence.
const NoValue = ""

// Envelope is the at-rest representation of one encrypted field.
type Envelope struct {
	IV         []byte
	Tag        []byte
	Ciphertext []byte
}

// String serializes the envelope into its delimited text form.
func (e Envelope) String() string {
	return hex.EncodeToString(e.IV) + separator +
		hex.EncodeToString(e.Tag) + separator +
		hex.EncodeToString(e.Ciphertext)
}

func (e Envelope) validate() error {
	if len(e.IV) != ivSize {
		return fmt.Errorf("iv is %d bytes, want %d", len(e.IV), ivSize)
	}
	if len(e.Tag) != tagSize {
		return fmt.Errorf("tag is %d bytes, want %d", len(e.Tag), tagSize)
	}
	if len(e.Ciphertext) == 0 {
		return fmt.Errorf("ciphertext is empty")
	}
	return nil
}

// ParseEnvelope decodes the delimited text form. All three parts are required.
func ParseEnvelope(value string) (Envelope, error) {
	parts := strings.Split(value, separator)
	if len(parts) != 3 {
		return Envelope{}, &DecryptFailure{Reason: fmt.Sprintf("envelope has %d parts, want 3", len(parts))}
	}
	var env Envelope
	var err error
	if env.IV, err = hex.DecodeString(parts[0]); err != nil {
		return Envelope{}, &DecryptFailure{Reason: "iv is not valid hex"}
	}
	if env.Tag, err = hex.DecodeString(parts[1]); err != nil {
		return Envelope{}, &DecryptFailure{Reason: "tag is not valid hex"}
	}
	if env.Ciphertext, err = hex.DecodeString(parts[2]); err != nil {
		return Envelope{}, &DecryptFailure{Reason: "ciphertext is not valid hex"}
	}
	if err := env.validate(); err != nil {
		return Envelope{}, &DecryptFailure{Reason: err.Error()}
	}
	return env, nil
}
