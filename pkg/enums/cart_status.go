package enums

import "slices"

// CartStatus tracks whether a cart is live or has been folded into another
// cart or an order. Only active carts accept mutations.
type CartStatus string

const (
	CartStatusActive    CartStatus = "active"
	CartStatusMerged    CartStatus = "merged"
	CartStatusConverted CartStatus = "converted"
)

var validCartStatuses = []CartStatus{
	CartStatusActive,
	CartStatusMerged,
	CartStatusConverted,
}

// String implements fmt.Stringer.
func (c CartStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CartStatus.
func (c CartStatus) IsValid() bool {
	return slices.Contains(validCartStatuses, c)
}

// IsTerminal reports whether the cart can no longer change.
func (c CartStatus) IsTerminal() bool {
	return c == CartStatusMerged || c == CartStatusConverted
}

// ParseCartStatus converts raw input into a CartStatus.
func ParseCartStatus(value string) (CartStatus, error) {
	return parse(value, validCartStatuses, "cart status")
}
