package eventlog

import (
	"fmt"
	"strings"
)

// Importance is the severity and retention class of an event. Lower values
// are more important.
type Importance uint8

const (
	ProductionCritical Importance = 1
	Production         Importance = 2
	Info               Importance = 3
	Debug              Importance = 4
)

// Importances lists every level, most important first.
var Importances = []Importance{ProductionCritical, Production, Info, Debug}

// Valid reports whether i is a known level.
func (i Importance) Valid() bool {
	return i >= ProductionCritical && i <= Debug
}

// String returns the level name.
func (i Importance) String() string {
	switch i {
	case ProductionCritical:
		return "critical"
	case Production:
		return "production"
	case Info:
		return "info"
	case Debug:
		return "debug"
	default:
		return fmt.Sprintf("importance(%d)", uint8(i))
	}
}

// ParseImportance parses a level name as returned by String.
func ParseImportance(s string) (Importance, error) {
	for _, i := range Importances {
		if strings.EqualFold(s, i.String()) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown importance %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (i Importance) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Importance) UnmarshalText(b []byte) error {
	v, err := ParseImportance(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Schema is the static metadata of one event type.
type Schema struct {
	ProfileID            uint32
	StructureType        uint16
	Importance           Importance
	SchemaVersion        uint16
	MinCompatibleVersion uint16
}

// EventID identifies an event within its importance level.
type EventID uint32
