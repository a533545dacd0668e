package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// User is the account record owned by the identity service. The engine only
// reads it to address notifications.
type User struct {
	ID        uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email     string           `gorm:"type:text;not null;uniqueIndex"`
	FirstName string           `gorm:"column:first_name;not null"`
	LastName  string           `gorm:"column:last_name;not null"`
	Role      enums.MemberRole `gorm:"column:role;not null;default:'customer'"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}
