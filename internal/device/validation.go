package device

import (
	"fmt"
	"strings"

	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/config"
)

const maxNameLength = 100

// Validate checks a record before it is stored or turned into an entity.
func (r Record) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	if strings.ContainsAny(name, "/+#") {
		return fmt.Errorf("%w: name %q contains an MQTT wildcard or separator", ErrInvalidDevice, name)
	}
	if !config.ValidMAC(r.MAC) {
		return fmt.Errorf("%w: mac %q must be 16 hex characters", ErrInvalidDevice, r.MAC)
	}

	switch r.Kind {
	case KindLight:
		if r.Position < 1 {
			return fmt.Errorf("%w: light position must be at least 1", ErrInvalidDevice)
		}
		if r.MAC2 != "" {
			if !config.ValidMAC(r.MAC2) {
				return fmt.Errorf("%w: mac2 %q must be 16 hex characters", ErrInvalidDevice, r.MAC2)
			}
			if r.Position2 < 1 {
				return fmt.Errorf("%w: position2 must be at least 1 when mac2 is set", ErrInvalidDevice)
			}
		}
	case KindCurtain:
		if r.MAC2 != "" {
			return fmt.Errorf("%w: curtains take a single mac", ErrInvalidDevice)
		}
	default:
		return fmt.Errorf("%w: kind %q must be light or curtain", ErrInvalidDevice, r.Kind)
	}
	return nil
}
