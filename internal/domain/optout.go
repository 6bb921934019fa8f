package domain

import (
	"fmt"
	"time"
)

// OptOut is the per-user suppression switch. At most one record exists per
// user. Activating it cascades every SCHEDULED or RETRY notification owned
// by the user to OPTED_OUT inside the same transaction as the flag write.
type OptOut struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	UserID    string `gorm:"type:uuid;not null;unique"`
	Active    bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o *OptOut) Validate() error {
	if o.UserID == "" {
		return fmt.Errorf("%w: user is required", ErrValidation)
	}
	return nil
}
