package classfile

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// definition always serializes to the same bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("classfile: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("classfile: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal returns the binary form of d.
func Marshal(d *Definition) ([]byte, error) {
	data, err := encMode.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode class %s: %w", d.Name, err)
	}
	return data, nil
}

// Unmarshal decodes the binary form of a class.
func Unmarshal(data []byte) (*Definition, error) {
	var d Definition
	if err := decMode.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode class: %w", err)
	}
	if d.Name == "" {
		return nil, fmt.Errorf("decode class: missing name")
	}
	return &d, nil
}
