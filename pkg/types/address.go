package types

import "strings"

// Address is the contact and postal block captured on orders. It is stored as
// flat columns through gorm's embedded struct support, so the same shape backs
// both the shipping_ and billing_ column groups.
type Address struct {
	FirstName string `json:"firstName" gorm:"column:first_name" validate:"required,max=100"`
	LastName  string `json:"lastName" gorm:"column:last_name" validate:"required,max=100"`
	Company   string `json:"company,omitempty" gorm:"column:company" validate:"max=200"`
	Address1  string `json:"address1" gorm:"column:address1" validate:"required,max=255"`
	Address2  string `json:"address2,omitempty" gorm:"column:address2" validate:"max=255"`
	City      string `json:"city" gorm:"column:city" validate:"required,max=100"`
	State     string `json:"state" gorm:"column:state" validate:"required,max=100"`
	Zip       string `json:"zip" gorm:"column:zip" validate:"required,max=20"`
	Country   string `json:"country" gorm:"column:country" validate:"required,max=100"`
	Phone     string `json:"phone" gorm:"column:phone" validate:"required,max=40"`
}

// Normalize trims surrounding whitespace on every field.
func (a Address) Normalize() Address {
	return Address{
		FirstName: strings.TrimSpace(a.FirstName),
		LastName:  strings.TrimSpace(a.LastName),
		Company:   strings.TrimSpace(a.Company),
		Address1:  strings.TrimSpace(a.Address1),
		Address2:  strings.TrimSpace(a.Address2),
		City:      strings.TrimSpace(a.City),
		State:     strings.TrimSpace(a.State),
		Zip:       strings.TrimSpace(a.Zip),
		Country:   strings.TrimSpace(a.Country),
		Phone:     strings.TrimSpace(a.Phone),
	}
}

// IsZero reports whether no field carries a value.
func (a Address) IsZero() bool {
	return a.Normalize() == Address{}
}

// FullName joins first and last name.
func (a Address) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}
