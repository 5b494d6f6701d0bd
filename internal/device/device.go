// Package device holds the device descriptors an inventory hands to the
// orchestrator, plus the stores that load them from a file or MongoDB.
package device

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// ErrInventory marks configuration-time inventory problems: empty inventory,
// malformed descriptors, duplicate hosts. These are rejected before any
// device work starts.
var ErrInventory = errors.New("invalid inventory")

const defaultSSHPort = 22

// Descriptor identifies one device in the inventory. Host is the natural key
// within a batch. Immutable once loaded.
type Descriptor struct {
	Name     string `yaml:"name" json:"name" bson:"name"`
	Host     string `yaml:"host" json:"host" bson:"host" validate:"required,hostname|ip"`
	Port     int    `yaml:"port" json:"port" bson:"port" validate:"min=0,max=65535"`
	Platform string `yaml:"platform" json:"platform" bson:"platform"`
	Username string `yaml:"username" json:"username" bson:"username" validate:"required"`
	Password string `yaml:"password" json:"password" bson:"password"`
	// Secret is the enable secret for platforms that gate config mode.
	Secret string `yaml:"secret" json:"secret" bson:"secret"`
}

// Addr returns the dialable host:port address, defaulting the SSH port.
func (d Descriptor) Addr() string {
	port := d.Port
	if port == 0 {
		port = defaultSSHPort
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(port))
}

// Label returns the operator-facing name, falling back to the host.
func (d Descriptor) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Host
}

var validate = validator.New()

// ValidateInventory checks the batch inventory before execution: it must be
// non-empty, every descriptor must be well-formed, and host addresses must be
// unique. Failures wrap ErrInventory.
func ValidateInventory(devs []Descriptor) error {
	if len(devs) == 0 {
		return fmt.Errorf("%w: inventory is empty", ErrInventory)
	}
	seen := make(map[string]struct{}, len(devs))
	for i, d := range devs {
		if err := validate.Struct(d); err != nil {
			return fmt.Errorf("%w: device %d (%s): %v", ErrInventory, i, d.Label(), err)
		}
		if _, dup := seen[d.Host]; dup {
			return fmt.Errorf("%w: duplicate host %s", ErrInventory, d.Host)
		}
		seen[d.Host] = struct{}{}
	}
	return nil
}
