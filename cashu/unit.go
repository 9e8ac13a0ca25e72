package cashu

import (
	"fmt"
	"strings"
)

type Unit int

const (
	Sat Unit = iota
	Msat
	MilliStrk
	Strk
)

func (unit Unit) String() string {
	switch unit {
	case Sat:
		return "sat"
	case Msat:
		return "msat"
	case MilliStrk:
		return "millistrk"
	case Strk:
		return "strk"
	default:
		return "unknown"
	}
}

func UnitFromString(unit string) (Unit, error) {
	switch strings.ToLower(unit) {
	case "sat":
		return Sat, nil
	case "msat":
		return Msat, nil
	case "millistrk":
		return MilliStrk, nil
	case "strk":
		return Strk, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidUnit, unit)
	}
}

// UnitAmount is the total amount accumulated for one unit.
type UnitAmount struct {
	Unit   Unit   `json:"unit"`
	Amount Amount `json:"amount"`
}

func (ua UnitAmount) String() string {
	return fmt.Sprintf("%d %s", ua.Amount, ua.Unit)
}

func (unit Unit) MarshalText() ([]byte, error) {
	return []byte(unit.String()), nil
}

func (unit *Unit) UnmarshalText(text []byte) error {
	u, err := UnitFromString(string(text))
	if err != nil {
		return err
	}
	*unit = u
	return nil
}
