package model

// Patient is one entry in the clinic's active queue.
type Patient struct {
	ID          string        `json:"id" yaml:"id"`
	QueueNumber int           `json:"queue_number" yaml:"queue_number"`
	Name        string        `json:"name" yaml:"name"`
	Service     Service       `json:"service" yaml:"service"`
	Status      PatientStatus `json:"status" yaml:"status"`
	ArrivalTime string        `json:"arrival_time" yaml:"arrival_time"`
}

// PatientStatus is the queue state of a patient.
type PatientStatus string

// Patient statuses.
const (
	PatientPending   PatientStatus = "pending"
	PatientArrived   PatientStatus = "arrived"
	PatientServing   PatientStatus = "serving"
	PatientCompleted PatientStatus = "completed"
	PatientMissed    PatientStatus = "missed"
)

// Valid reports whether s is a known patient status.
func (s PatientStatus) Valid() bool {
	switch s {
	case PatientPending, PatientArrived, PatientServing, PatientCompleted, PatientMissed:
		return true
	}
	return false
}

// Service is a clinic service a patient can queue for.
type Service string

// Services.
const (
	ServiceCheckup      Service = "checkup"
	ServicePrenatal     Service = "prenatal"
	ServiceImmunization Service = "immunization"
	ServiceDental       Service = "dental"
)

// ServiceInfo describes a service for the patient-side selector.
type ServiceInfo struct {
	ID          Service `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
}

// Services lists the offered services in display order.
var Services = []ServiceInfo{
	{ServiceCheckup, "General Check-up", "Consultation for common illnesses"},
	{ServicePrenatal, "Prenatal Care", "Maternal health & check-ups"},
	{ServiceImmunization, "Immunization", "Vaccines for babies & adults"},
	{ServiceDental, "Dental Services", "Tooth extraction & cleaning"},
}

// Valid reports whether s is an offered service.
func (s Service) Valid() bool {
	for _, info := range Services {
		if info.ID == s {
			return true
		}
	}
	return false
}

// Label returns the display title of the service.
func (s Service) Label() string {
	for _, info := range Services {
		if info.ID == s {
			return info.Title
		}
	}
	return "Unknown Service"
}
