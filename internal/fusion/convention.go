package fusion

import (
	"fmt"
	"strings"
)

// Convention is the handedness and axis naming of the earth frame.
type Convention int

const (
	// ConventionNWU is North-West-Up.
	ConventionNWU Convention = iota
	// ConventionENU is East-North-Up.
	ConventionENU
	// ConventionNED is North-East-Down.
	ConventionNED
)

func (c Convention) String() string {
	switch c {
	case ConventionNWU:
		return "nwu"
	case ConventionENU:
		return "enu"
	case ConventionNED:
		return "ned"
	}
	return fmt.Sprintf("convention(%d)", int(c))
}

func ParseConvention(s string) (Convention, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nwu":
		return ConventionNWU, nil
	case "enu":
		return ConventionENU, nil
	case "ned":
		return ConventionNED, nil
	}
	return 0, fmt.Errorf("fusion: unknown convention %q (want nwu, enu or ned)", s)
}

// up is the earth-frame unit vector opposing gravity.
func (c Convention) up() Vector {
	if c == ConventionNED {
		return Vector{Z: -1}
	}
	return Vector{Z: 1}
}
