package models

// OrderNumberSequence holds the last issued order counter for a YYMM period.
type OrderNumberSequence struct {
	Period    string `gorm:"column:period;primaryKey"`
	LastValue int    `gorm:"column:last_value;not null;default:0"`
}
