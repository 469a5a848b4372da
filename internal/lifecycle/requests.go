package lifecycle

import (
	"time"

	"equipment-custody-backend/internal/custody"
	"equipment-custody-backend/internal/model"
)

// RegisterRequest creates one record per code in Codes. Codes is raw
// newline-delimited scanner input.
type RegisterRequest struct {
	Codes        string       `json:"codes" binding:"required"`
	BrandModel   *string      `json:"brandModel" binding:"omitempty,max=256"`
	Client       *string      `json:"client" binding:"omitempty,max=256"`
	Reason       model.Reason `json:"reason" binding:"required,equipreason"`
	ReceivedBy   string       `json:"receivedBy" binding:"required"`
	Specialist   *string      `json:"specialist" binding:"required"`
	HighPriority bool         `json:"highPriority"`
	ProcessState string       `json:"processState" binding:"max=64"`
	IntakeNotes  *string      `json:"intakeNotes"`
	ExitNotes    *string      `json:"exitNotes"`
	MarkIntake   bool         `json:"markIntake"`
	MarkExit     bool         `json:"markExit"`
	DeliveredTo  *string      `json:"deliveredTo" binding:"omitempty,max=256"`
}

// RegisterResult is what a successful registration produced.
type RegisterResult struct {
	Records  []custody.Derived `json:"data"`
	Count    int               `json:"count"`
	Warnings *string           `json:"warnings"`
}

// UpdateRequest replaces every editable field of a record. Optional fields
// left out are cleared. ExistingIntakeAt and ExistingExitAt echo the
// timestamps the caller saw so a stale form does not stamp them again.
type UpdateRequest struct {
	BrandModel       *string      `json:"brandModel" binding:"omitempty,max=256"`
	Client           *string      `json:"client" binding:"omitempty,max=256"`
	Reason           model.Reason `json:"reason" binding:"required,equipreason"`
	ReceivedBy       string       `json:"receivedBy" binding:"required"`
	Specialist       *string      `json:"specialist" binding:"required"`
	HighPriority     bool         `json:"highPriority"`
	ProcessState     string       `json:"processState" binding:"max=64"`
	IntakeNotes      *string      `json:"intakeNotes"`
	ExitNotes        *string      `json:"exitNotes"`
	MarkIntake       bool         `json:"markIntake"`
	MarkExit         bool         `json:"markExit"`
	DeliveredTo      *string      `json:"deliveredTo" binding:"omitempty,max=256"`
	ExistingIntakeAt *time.Time   `json:"existingIntakeTimestamp"`
	ExistingExitAt   *time.Time   `json:"existingExitTimestamp"`
}

// PatchRequest writes only the fields that are present.
type PatchRequest struct {
	BrandModel   *string       `json:"brandModel" binding:"omitempty,max=256"`
	Client       *string       `json:"client" binding:"omitempty,max=256"`
	Reason       *model.Reason `json:"reason" binding:"omitempty,equipreason"`
	ReceivedBy   *string       `json:"receivedBy"`
	Specialist   *string       `json:"specialist"`
	HighPriority *bool         `json:"highPriority"`
	ProcessState *string       `json:"processState" binding:"omitempty,max=64"`
	IntakeNotes  *string       `json:"intakeNotes"`
	ExitNotes    *string       `json:"exitNotes"`
	MarkIntake   bool          `json:"markIntake"`
	MarkExit     bool          `json:"markExit"`
	DeliveredTo  *string       `json:"deliveredTo" binding:"omitempty,max=256"`
}

// MarkExitRequest carries the hand-off details of a single exit.
type MarkExitRequest struct {
	DeliveredTo *string `json:"deliveredTo" binding:"omitempty,max=256"`
	Specialist  *string `json:"specialist"`
	ExitNotes   *string `json:"exitNotes"`
}

// BatchExitRequest applies one exit to many records.
type BatchExitRequest struct {
	IDs         []string `json:"ids" binding:"required,min=1,dive,required"`
	MarkExit    bool     `json:"markExit"`
	DeliveredTo *string  `json:"deliveredTo" binding:"omitempty,max=256"`
	ExitNotes   *string  `json:"exitNotes"`
}

// BatchExitResult lists the records touched by a batch exit.
type BatchExitResult struct {
	Records []custody.Derived `json:"data"`
	Count   int               `json:"count"`
}

// Filter selects a dashboard subset.
type Filter string

const (
	FilterNone        Filter = ""
	FilterPreparation Filter = "preparation"
	FilterUrgent      Filter = "urgent"
	FilterDelayed     Filter = "delayed"
)

// ListOptions controls List.
type ListOptions struct {
	IncludeDeleted bool
	Filter         Filter
	SortByDays     bool
}

// CatalogView enumerates the accepted values for the record form.
type CatalogView struct {
	Reasons       []model.Reason `json:"reasons"`
	Areas         []string       `json:"areas"`
	Specialists   []string       `json:"specialists"`
	ProcessStates []string       `json:"processStates"`
}
