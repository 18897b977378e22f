package eventbus

// Domain event names published by the scheduling engine.
//
// The four reminder events are fire-and-forget; whatever turns them into
// push/email delivery subscribes here and is out of this repo's scope.
const (
	// EventCheckInReminder fires for a reminder on a CHECK_IN schedule.
	EventCheckInReminder = "reminder.checkin"
	// EventAppointmentReminder fires for a reminder on an APPOINTMENT schedule.
	EventAppointmentReminder = "reminder.appointment"
	// EventUserToolkitReminder fires for a reminder on a USER_TOOLKIT schedule.
	EventUserToolkitReminder = "reminder.usertoolkit"
	// EventAgendaReminder fires for a reminder on a TOOL_KIT schedule.
	EventAgendaReminder = "reminder.agenda"

	// EventScheduleAdded announces a newly created schedule.
	// Consumed by an unrelated feature (challenge bookkeeping), not by this engine.
	EventScheduleAdded = "schedule.added"

	// EventScheduleCompleted announces that a schedule met its session quota
	// for the day, as observed by the completion-check job.
	EventScheduleCompleted = "schedule.completed"
)

// ReminderFired is the Data payload carried by the four reminder events.
type ReminderFired struct {
	ReminderID string `json:"reminder_id"`
	ScheduleID string `json:"schedule_id"`
	UserID     string `json:"user_id"`
	// EntityID is the linked check-in/appointment/user-toolkit/toolkit id.
	EntityID string `json:"entity_id,omitempty"`
	// EntityTitle is a display hint for delivery; may be empty.
	EntityTitle string `json:"entity_title,omitempty"`
}

// ScheduleAdded is the Data payload for EventScheduleAdded.
type ScheduleAdded struct {
	ScheduleID string `json:"schedule_id"`
	UserID     string `json:"user_id"`
	EntityID   string `json:"entity_id,omitempty"`
}

// ScheduleCompleted is the Data payload for EventScheduleCompleted.
type ScheduleCompleted struct {
	ScheduleID string `json:"schedule_id"`
	UserID     string `json:"user_id"`
	Day        string `json:"day"` // YYYY-MM-DD
	Completed  int    `json:"completed"`
	Total      int    `json:"total"`
}
