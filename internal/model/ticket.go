package model

import "time"

// Ticket is a queue ticket issued to a patient.
type Ticket struct {
	QueueNumber   int       `json:"queue_number"`
	Service       Service   `json:"service"`
	ServiceLabel  string    `json:"service_label"`
	NowServing    int       `json:"now_serving"`
	PeopleAhead   int       `json:"people_ahead"`
	EstimatedWait string    `json:"estimated_wait"`
	IssuedAt      time.Time `json:"issued_at"`
}
