// Package custody turns stored timestamps and flags into the values shown on
// the dashboard. Everything here is pure: callers pass the clock in.
package custody

import (
	"math"
	"time"

	"equipment-custody-backend/internal/model"
)

// DelayedAfterDays is the custody length after which an active item is late.
const DelayedAfterDays = 3

const day = 24 * time.Hour

// Status is the derived display label of a record.
type Status string

const (
	StatusUrgent        Status = "Urgent"
	StatusDelayed       Status = "Delayed"
	StatusReady         Status = "Ready"
	StatusInPreparation Status = "InPreparation"
	StatusRegistered    Status = "Registered"
)

// CustodyDays counts whole 24h periods between intake and exit, or between
// intake and now while the item has not left. Partial days are truncated, so
// an item received an hour ago has 0 days.
func CustodyDays(intake, exit *time.Time, now time.Time) int {
	if intake == nil {
		return 0
	}
	end := now
	if exit != nil {
		end = *exit
	}
	elapsed := end.Sub(*intake)
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / day)
}

// DeriveStatus picks the label for rec. The checks run in priority order and
// the first match wins: an urgent item that is also late stays Urgent.
func DeriveStatus(rec *model.EquipmentRecord, days int) Status {
	switch {
	case rec.HighPriority && rec.ExitAt == nil:
		return StatusUrgent
	case days > DelayedAfterDays && rec.ExitAt == nil:
		return StatusDelayed
	case rec.ExitAt != nil:
		return StatusReady
	case rec.IntakeAt != nil:
		return StatusInPreparation
	default:
		return StatusRegistered
	}
}

// Derived is a record together with its computed custody values.
type Derived struct {
	model.EquipmentRecord
	CustodyDays int    `json:"custodyDays"`
	Status      Status `json:"status"`
}

// Derive computes days and status for rec at time now.
func Derive(rec model.EquipmentRecord, now time.Time) Derived {
	days := CustodyDays(rec.IntakeAt, rec.ExitAt, now)
	return Derived{
		EquipmentRecord: rec,
		CustodyDays:     days,
		Status:          DeriveStatus(&rec, days),
	}
}

// Stats aggregates the items still in custody.
type Stats struct {
	InPreparation int `json:"inPreparation"`
	Urgent        int `json:"urgent"`
	Delayed       int `json:"delayed"`
	AverageDays   int `json:"averageDays"`
	TotalDays     int `json:"totalDays"`
}

// ComputeStats aggregates over non-deleted records without an exit. Delayed
// counts only non-urgent items, which matches the records whose derived
// status is StatusDelayed.
func ComputeStats(records []model.EquipmentRecord, now time.Time) Stats {
	var s Stats
	for i := range records {
		rec := &records[i]
		if !rec.Active() {
			continue
		}
		days := CustodyDays(rec.IntakeAt, rec.ExitAt, now)
		s.InPreparation++
		s.TotalDays += days
		switch DeriveStatus(rec, days) {
		case StatusUrgent:
			s.Urgent++
		case StatusDelayed:
			s.Delayed++
		}
	}
	if s.InPreparation > 0 {
		s.AverageDays = int(math.Round(float64(s.TotalDays) / float64(s.InPreparation)))
	}
	return s
}
