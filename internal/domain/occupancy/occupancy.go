// Package occupancy implements admissions and the physical bed/room
// resources whose state reflects patient presence.
package occupancy

import (
	"fmt"
	"math"
	"time"
)

// AdmissionType distinguishes inpatient stays from outpatient visits.
type AdmissionType string

const (
	Inpatient  AdmissionType = "inpatient"
	Outpatient AdmissionType = "outpatient"
)

// AdmissionStatus represents the admission lifecycle.
type AdmissionStatus string

const (
	AdmissionActive      AdmissionStatus = "active"
	AdmissionDischarged  AdmissionStatus = "discharged"
	AdmissionTransferred AdmissionStatus = "transferred"
)

// ResourceStatus represents bed and room availability.
type ResourceStatus string

const (
	ResourceAvailable   ResourceStatus = "available"
	ResourceOccupied    ResourceStatus = "occupied"
	ResourceCleaning    ResourceStatus = "cleaning"
	ResourceMaintenance ResourceStatus = "maintenance"
)

// Admission is a patient's current stay record, linked to physical
// resources while active.
type Admission struct {
	ID           string          `json:"id"`
	PatientID    string          `json:"patient_id"`
	Type         AdmissionType   `json:"type"`
	Status       AdmissionStatus `json:"status"`
	AdmittedAt   time.Time       `json:"admitted_at"`
	DischargedAt *time.Time      `json:"discharged_at,omitempty"`
	TotalDays    int             `json:"total_days"`
	BedID        *string         `json:"bed_id,omitempty"`
	RoomID       *string         `json:"room_id,omitempty"`
}

// Bed is a physical resource back-referencing the occupying patient and
// admission while occupied.
type Bed struct {
	ID          string         `json:"id"`
	RoomID      string         `json:"room_id"`
	Number      string         `json:"number"`
	Status      ResourceStatus `json:"status"`
	PatientID   *string        `json:"patient_id,omitempty"`
	AdmissionID *string        `json:"admission_id,omitempty"`
	ReleasedAt  *time.Time     `json:"released_at,omitempty"`
}

// Room groups beds; it is available when at least one of its beds is.
type Room struct {
	ID     string         `json:"id"`
	Number string         `json:"number"`
	Status ResourceStatus `json:"status"`
}

// Discharge transitions an active admission to discharged, stamping the
// discharge time and deriving the stay length. The transition happens at
// most once; any other starting state is an error.
func (a *Admission) Discharge(at time.Time) error {
	if a.Status != AdmissionActive {
		return fmt.Errorf("admission %s is %s, not active", a.ID, a.Status)
	}
	a.Status = AdmissionDischarged
	done := at
	a.DischargedAt = &done
	a.TotalDays = StayDays(a.AdmittedAt, at)
	return nil
}

// StayDays derives the billed stay length from elapsed hours: under 12
// hours counts as 0 days, up to 24 hours as 1 day, and each further started
// 24-hour block adds a day.
func StayDays(admittedAt, dischargedAt time.Time) int {
	hours := dischargedAt.Sub(admittedAt).Hours()
	switch {
	case hours < 12:
		return 0
	case hours <= 24:
		return 1
	default:
		return 1 + int(math.Ceil((hours-24)/24))
	}
}

// Release frees a bed after discharge: available, references cleared,
// release time stamped.
func (b *Bed) Release(at time.Time) {
	b.Status = ResourceAvailable
	b.PatientID = nil
	b.AdmissionID = nil
	done := at
	b.ReleasedAt = &done
}

// RoomAvailable reports whether any bed in the room is available. The
// lifecycle manager sets the room available when this holds and otherwise
// leaves the room status unchanged.
func RoomAvailable(beds []Bed) bool {
	for _, b := range beds {
		if b.Status == ResourceAvailable {
			return true
		}
	}
	return false
}
