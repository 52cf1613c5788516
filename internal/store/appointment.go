package store

import "time"

// AppointmentPayload is the upstream appointment webhook body. The service
// fields are denormalised onto each appointment.
type AppointmentPayload struct {
	ServiceID           int64            `json:"service_id" validate:"required,gt=0"`
	ServiceName         string           `json:"service_name" validate:"required,max=255"`
	ExtraAttributes     []ExtraAttribute `json:"extra_attributes"`
	Colour              string           `json:"colour" validate:"omitempty,max=20"`
	Topic               string           `json:"appointment_topic" validate:"max=255"`
	AttendeesMax        *int             `json:"attendees_max" validate:"omitempty,gte=0"`
	AttendeesCount      int              `json:"attendees_count" validate:"gte=0"`
	AttendeesCurrentIDs []int64          `json:"attendees_current_ids"`
	Start               time.Time        `json:"start" validate:"required"`
	Finish              time.Time        `json:"finish" validate:"required,gtefield=Start"`
	Price               *float64         `json:"price"`
	Location            string           `json:"location" validate:"max=255"`
}

// Service groups appointments of the same kind.
type Service struct {
	ID              int64            `json:"id"`
	CompanyID       int64            `json:"-"`
	Name            string           `json:"name"`
	Colour          string           `json:"colour"`
	ExtraAttributes []ExtraAttribute `json:"extra_attributes"`
}

// Appointment is a scheduled session of a service.
type Appointment struct {
	ID                  int64     `json:"id"`
	ServiceID           int64     `json:"service_id"`
	ServiceName         string    `json:"service_name"`
	Topic               string    `json:"topic"`
	AttendeesMax        *int      `json:"attendees_max"`
	AttendeesCount      int       `json:"attendees_count"`
	AttendeesCurrentIDs []int64   `json:"attendees_current_ids"`
	Start               time.Time `json:"start"`
	Finish              time.Time `json:"finish"`
	Price               *float64  `json:"price"`
	Location            string    `json:"location"`
}

// AppointmentFilter narrows public appointment listings.
type AppointmentFilter struct {
	ServiceID *int64
	From      time.Time
	Page      int
	PageSize  int
}
