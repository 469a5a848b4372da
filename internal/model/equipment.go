package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxCodeLength is the longest equipment code accepted after normalization.
const MaxCodeLength = 50

// Reason explains why an item is in custody.
type Reason string

const (
	ReasonTemporary   Reason = "Temporary"
	ReasonMaintenance Reason = "Maintenance"
	ReasonRental      Reason = "Rental"
	ReasonExchange    Reason = "Exchange"
)

// Reasons lists every accepted reason in display order.
var Reasons = []Reason{ReasonTemporary, ReasonMaintenance, ReasonRental, ReasonExchange}

// Valid reports whether r is one of the known reasons.
func (r Reason) Valid() bool {
	for _, known := range Reasons {
		if r == known {
			return true
		}
	}
	return false
}

// Well-known process states. Any other value is accepted as written.
const (
	ProcessPending    = "Pending"
	ProcessInProgress = "InProgress"
	ProcessDone       = "Done"
)

// ProcessStates lists the well-known process states.
var ProcessStates = []string{ProcessPending, ProcessInProgress, ProcessDone}

// EquipmentRecord is one custody episode of a physical item.
type EquipmentRecord struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Code         string     `gorm:"size:50;not null;index" json:"code"`
	BrandModel   *string    `gorm:"size:256" json:"brandModel"`
	Client       *string    `gorm:"size:256" json:"client"`
	Reason       Reason     `gorm:"size:32;not null" json:"reason"`
	ReceivedBy   string     `gorm:"size:128;not null" json:"receivedBy"`
	Specialist   *string    `gorm:"size:128" json:"specialist"`
	HighPriority bool       `gorm:"not null;default:false;index" json:"highPriority"`
	ProcessState string     `gorm:"size:64;not null;default:Pending" json:"processState"`
	IntakeAt     *time.Time `gorm:"index" json:"intakeTimestamp"`
	ExitAt       *time.Time `gorm:"index" json:"exitTimestamp"`
	DeliveredTo  *string    `gorm:"size:256" json:"deliveredTo"`
	IntakeNotes  *string    `gorm:"type:text" json:"intakeNotes"`
	ExitNotes    *string    `gorm:"type:text" json:"exitNotes"`
	Deleted      bool       `gorm:"not null;default:false;index" json:"deleted"`
	DeletedAt    *time.Time `json:"deletionTimestamp"`

	// DelayNotifiedAt is set once the delayed notification went out.
	DelayNotifiedAt *time.Time `json:"-"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

// BeforeCreate assigns a random id when the caller did not set one.
func (r *EquipmentRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Active reports whether the item is still in custody.
func (r *EquipmentRecord) Active() bool {
	return r.ExitAt == nil && !r.Deleted
}
