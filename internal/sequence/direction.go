package sequence

import (
	"fmt"
	"strings"
)

// Direction is a single token of an unlock code.
type Direction uint8

// Direction constants. The zero value is not a valid token.
const (
	Left Direction = iota + 1
	Right
	Up
	Down
)

// AllDirections returns the default token alphabet in declaration order.
func AllDirections() []Direction {
	return []Direction{Left, Right, Up, Down}
}

// String returns the lower-case wire name of a direction.
func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// IsValid returns true if d is one of the four tokens.
func (d Direction) IsValid() bool {
	return d >= Left && d <= Down
}

// ParseDirection parses a wire name. "bottom" is accepted as an alias for down.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	case "up":
		return Up, nil
	case "down", "bottom":
		return Down, nil
	default:
		return 0, fmt.Errorf("unknown direction: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	if !d.IsValid() {
		return nil, fmt.Errorf("invalid direction: %d", d)
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	parsed, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Format joins a sequence as "left-up-right".
func Format(seq []Direction) string {
	parts := make([]string, len(seq))
	for i, d := range seq {
		parts[i] = d.String()
	}
	return strings.Join(parts, "-")
}
