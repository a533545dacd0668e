// Package instance names the running process for log correlation across
// replicas of the same binary.
package instance

import (
	"fmt"
	"os"
	"strings"
)

// ID returns the replica identifier for a service kind. STOREFRONT_INSTANCE_ID
// wins, then the container hostname, then "<kind>-0".
func ID(kind string) string {
	if id := strings.TrimSpace(os.Getenv("STOREFRONT_INSTANCE_ID")); id != "" {
		return id
	}
	if host := strings.TrimSpace(os.Getenv("HOSTNAME")); host != "" {
		return host
	}
	if kind == "" {
		kind = "storefront"
	}
	return fmt.Sprintf("%s-0", kind)
}
