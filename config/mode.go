package config

import "fmt"

// Mode selects which server implementation handles traffic for the
// lifetime of the process. It is decided once at startup.
type Mode int

const (
	ModeProduction Mode = iota
	ModeDevelopment
)

func (m Mode) String() string {
	if m == ModeDevelopment {
		return "development"
	}
	return "production"
}

func (m Mode) IsDevelopment() bool {
	return m == ModeDevelopment
}

// ParseMode maps the DEBUG flag value to a runtime mode. Only the
// enumerated encodings are accepted; anything else ("yes", "on", odd
// casings) is an error so that a misconfigured container fails at
// startup instead of silently serving production.
func ParseMode(debug string) (Mode, error) {
	switch debug {
	case "true", "True", "TRUE", "1":
		return ModeDevelopment, nil
	case "", "false", "False", "FALSE", "0":
		return ModeProduction, nil
	default:
		return ModeProduction, fmt.Errorf("unrecognized DEBUG value %q", debug)
	}
}
