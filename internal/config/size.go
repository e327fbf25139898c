package config

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ByteSize is a byte count that reads either a plain integer or a human
// readable size such as "64KiB" or "4 kB".
type ByteSize int

// Int returns the size as an int.
func (b ByteSize) Int() int {
	return int(b)
}

// String returns the size in IEC units.
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var n int
	if err := node.Decode(&n); err == nil {
		if n < 0 {
			return fmt.Errorf("line %d: size must not be negative", node.Line)
		}
		*b = ByteSize(n)
		return nil
	}

	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: invalid size", node.Line)
	}
	v, err := ParseSize(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = v
	return nil
}

// MarshalYAML implements yaml.Marshaler. Sizes that do not survive the
// human readable form are written as integers.
func (b ByteSize) MarshalYAML() (any, error) {
	if b == 0 {
		return 0, nil
	}
	if v, err := ParseSize(b.String()); err == nil && v == b {
		return b.String(), nil
	}
	return int(b), nil
}

// ParseSize parses a human readable size.
func ParseSize(s string) (ByteSize, error) {
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if v > math.MaxInt32 {
		return 0, fmt.Errorf("size %q too large", s)
	}
	return ByteSize(v), nil
}
