package notifier

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification is one caregiver alert, built by the scanner and delivered
// by the dispatcher through the external messaging collaborator.
type Notification struct {
	ID             string    `json:"id"`
	ScheduleID     string    `json:"schedule_id"`
	CaregiverID    string    `json:"caregiver_id"`
	Channel        string    `json:"channel"`
	ChannelAddress string    `json:"channel_address"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	DueAt          time.Time `json:"due_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func (n *Notifier) buildNotification(d DueDose) *Notification {
	body := fmt.Sprintf("Dose due %s: %s %s for %s",
		d.ScheduledTime.Format("15:04"), d.MedicationName, d.Dosage, d.PatientName)
	if d.RoomNumber != "" {
		body += fmt.Sprintf(" (room %s", d.RoomNumber)
		if d.BedNumber != "" {
			body += fmt.Sprintf(", bed %s", d.BedNumber)
		}
		body += ")"
	}

	return &Notification{
		ID:             uuid.New().String(),
		ScheduleID:     d.ScheduleID,
		CaregiverID:    d.CaregiverID,
		Channel:        d.Channel,
		ChannelAddress: d.ChannelAddress,
		Subject:        "Upcoming dose",
		Body:           body,
		DueAt:          d.ScheduledTime,
		CreatedAt:      n.now(),
	}
}
