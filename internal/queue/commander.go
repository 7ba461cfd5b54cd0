// Package queue holds the clinic's patient queue: the staff-side commander
// that calls patients in order, and the patient-side ticket requester.
package queue

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/barriomed/clinic/internal/model"
)

var (
	// ErrNoNextPatient is returned when nobody is waiting to be called.
	ErrNoNextPatient = errors.New("no eligible next patient")

	// ErrNobodyServing is returned when a transition needs a patient
	// currently being served.
	ErrNobodyServing = errors.New("no patient is being served")

	// ErrNotMissed is returned when recalling a patient that is not on the
	// missed list.
	ErrNotMissed = errors.New("patient is not on the missed list")
)

// ArrivalTimeLayout formats arrival times of walk-ins.
const ArrivalTimeLayout = "03:04 PM"

// Advance describes what a queue transition did.
type Advance struct {
	// Completed is the patient who was being served and is now done.
	Completed *model.Patient `json:"completed,omitempty"`
	// Missed is the patient moved to the missed list by a no-show.
	Missed *model.Patient `json:"missed,omitempty"`
	// Serving is the patient now being served. It is nil only after a
	// no-show that emptied the queue.
	Serving *model.Patient `json:"serving,omitempty"`
}

// View is a snapshot of the commander's state.
type View struct {
	Serving      *model.Patient  `json:"serving"`
	Waiting      []model.Patient `json:"waiting"`
	WaitingCount int             `json:"waiting_count"`
	Missed       []model.Patient `json:"missed"`
	ShowMissed   bool            `json:"show_missed"`
}

// Commander is the staff queue controller. The active list keeps arrival
// order; the next patient is always the first one not being served.
type Commander struct {
	mu         sync.Mutex
	patients   []model.Patient
	missed     []model.Patient
	showMissed bool
	lastNumber int

	now   func() time.Time
	newID func() string
}

// Option configures a Commander.
type Option func(*Commander)

// WithClock sets the clock used for walk-in arrival times.
func WithClock(now func() time.Time) Option {
	return func(c *Commander) { c.now = now }
}

// WithIDGenerator sets how walk-in patient IDs are generated.
func WithIDGenerator(newID func() string) Option {
	return func(c *Commander) { c.newID = newID }
}

// NewCommander builds a commander over a copy of seed. The seed must satisfy
// the queue invariants: at most one serving patient, unique positive queue
// numbers, known services and statuses.
func NewCommander(seed []model.Patient, opts ...Option) (*Commander, error) {
	c := &Commander{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}

	seen := make(map[int]bool, len(seed))
	serving := 0
	for _, p := range seed {
		if p.QueueNumber <= 0 {
			return nil, fmt.Errorf("patient %s: queue number must be positive", p.ID)
		}
		if seen[p.QueueNumber] {
			return nil, fmt.Errorf("patient %s: duplicate queue number %d", p.ID, p.QueueNumber)
		}
		seen[p.QueueNumber] = true
		if !p.Service.Valid() {
			return nil, fmt.Errorf("patient %s: unknown service %q", p.ID, p.Service)
		}
		switch p.Status {
		case model.PatientPending, model.PatientArrived:
		case model.PatientServing:
			serving++
		default:
			return nil, fmt.Errorf("patient %s: status %q cannot be queued", p.ID, p.Status)
		}
		if p.QueueNumber > c.lastNumber {
			c.lastNumber = p.QueueNumber
		}
	}
	if serving > 1 {
		return nil, fmt.Errorf("%d patients are serving, at most one allowed", serving)
	}

	c.patients = append([]model.Patient(nil), seed...)
	return c, nil
}

func (c *Commander) servingIndex() int {
	for i, p := range c.patients {
		if p.Status == model.PatientServing {
			return i
		}
	}
	return -1
}

func (c *Commander) nextIndex() int {
	for i, p := range c.patients {
		if p.Status != model.PatientServing {
			return i
		}
	}
	return -1
}

// callNextLocked removes the serving patient, if any, and promotes the next
// candidate. State is untouched when there is no candidate.
func (c *Commander) callNextLocked() (Advance, error) {
	next := c.nextIndex()
	if next < 0 {
		return Advance{}, ErrNoNextPatient
	}

	var adv Advance
	if cur := c.servingIndex(); cur >= 0 {
		done := c.patients[cur]
		done.Status = model.PatientCompleted
		adv.Completed = &done
		c.patients = append(c.patients[:cur], c.patients[cur+1:]...)
		if cur < next {
			next--
		}
	}

	c.patients[next].Status = model.PatientServing
	serving := c.patients[next]
	adv.Serving = &serving
	return adv, nil
}

// CallNext finishes the patient being served, if any, and calls the next one.
func (c *Commander) CallNext() (Advance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callNextLocked()
}

// Complete marks the serving patient as done by advancing the queue.
func (c *Commander) Complete() (Advance, error) {
	return c.CallNext()
}

// NoShow moves the serving patient to the head of the missed list and calls
// the next one. When nobody else is waiting the queue is left with nobody
// serving.
func (c *Commander) NoShow() (Advance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.servingIndex()
	if cur < 0 {
		return Advance{}, ErrNobodyServing
	}
	missed := c.patients[cur]
	missed.Status = model.PatientMissed
	c.missed = append([]model.Patient{missed}, c.missed...)

	adv, err := c.callNextLocked()
	if errors.Is(err, ErrNoNextPatient) {
		c.patients = append(c.patients[:cur], c.patients[cur+1:]...)
		adv = Advance{}
	} else if err != nil {
		return Advance{}, err
	}
	adv.Completed = nil
	adv.Missed = &missed
	return adv, nil
}

// Recall puts a missed patient back at the end of the active queue.
func (c *Commander) Recall(id string) (model.Patient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, p := range c.missed {
		if p.ID != id {
			continue
		}
		c.missed = append(c.missed[:i], c.missed[i+1:]...)
		p.Status = model.PatientArrived
		c.patients = append(c.patients, p)
		return p, nil
	}
	return model.Patient{}, ErrNotMissed
}

// InsertWalkIn adds a patient who arrived without a ticket to the end of the
// queue with the next queue number.
func (c *Commander) InsertWalkIn(name string, service model.Service) (model.Patient, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Patient{}, model.Invalid("name", "name is required")
	}
	if !service.Valid() {
		return model.Patient{}, model.Invalid("service", fmt.Sprintf("unknown service %q", service))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastNumber++
	p := model.Patient{
		ID:          c.newID(),
		QueueNumber: c.lastNumber,
		Name:        name,
		Service:     service,
		Status:      model.PatientArrived,
		ArrivalTime: c.now().Format(ArrivalTimeLayout),
	}
	c.patients = append(c.patients, p)
	return p, nil
}

// ToggleMissedView flips whether the missed list is shown and returns the
// new value.
func (c *Commander) ToggleMissedView() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showMissed = !c.showMissed
	return c.showMissed
}

// Snapshot returns a copy of the current state.
func (c *Commander) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		Waiting:    []model.Patient{},
		Missed:     append([]model.Patient{}, c.missed...),
		ShowMissed: c.showMissed,
	}
	for _, p := range c.patients {
		if p.Status == model.PatientServing {
			serving := p
			v.Serving = &serving
			continue
		}
		v.Waiting = append(v.Waiting, p)
	}
	v.WaitingCount = len(v.Waiting)
	return v
}

// Patients returns the active list in queue order, serving patient included.
func (c *Commander) Patients() []model.Patient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Patient{}, c.patients...)
}

// NowServing returns the queue number being served, or 0.
func (c *Commander) NowServing() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.servingIndex(); i >= 0 {
		return c.patients[i].QueueNumber
	}
	return 0
}
