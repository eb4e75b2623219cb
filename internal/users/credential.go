package users

import "time"

// Credential stores the bcrypt hash of the owner's PIN. The table holds at most one row.
type Credential struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	PinHash   string    `gorm:"column:pin;size:72;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Credential) TableName() string {
	return "pin_auth"
}
