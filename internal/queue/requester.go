package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/barriomed/clinic/internal/model"
)

var (
	// ErrNoServiceSelected is returned when confirming without a service.
	ErrNoServiceSelected = errors.New("no service selected")

	// ErrTicketActive is returned when the patient already holds a ticket.
	ErrTicketActive = errors.New("a ticket is already active")

	// ErrNoTicket is returned when cancelling without a ticket.
	ErrNoTicket = errors.New("no active ticket")
)

// Step is where a patient is in the ticket flow.
type Step string

// Ticket flow steps.
const (
	StepSelection Step = "selection"
	StepTicket    Step = "ticket"
)

// TicketIssuer hands out queue tickets.
type TicketIssuer interface {
	Issue(ctx context.Context, service model.Service) (model.Ticket, error)
}

// TicketBookConfig seeds a TicketBook.
type TicketBookConfig struct {
	NextNumber       int `yaml:"next_number"`
	NowServing       int `yaml:"now_serving"`
	MinutesPerPerson struct {
		Min int `yaml:"min"`
		Max int `yaml:"max"`
	} `yaml:"minutes_per_person"`
}

// TicketBook issues sequential ticket numbers against a fixed now-serving
// number. It does not see the staff queue.
type TicketBook struct {
	mu         sync.Mutex
	next       int
	nowServing int
	minLo      int
	minHi      int
	now        func() time.Time
}

// NewTicketBook returns a ticket book seeded from cfg.
func NewTicketBook(cfg TicketBookConfig) *TicketBook {
	lo, hi := cfg.MinutesPerPerson.Min, cfg.MinutesPerPerson.Max
	if lo <= 0 {
		lo = 4
	}
	if hi < lo {
		hi = lo
	}
	next := cfg.NextNumber
	if next <= 0 {
		next = 1
	}
	return &TicketBook{
		next:       next,
		nowServing: cfg.NowServing,
		minLo:      lo,
		minHi:      hi,
		now:        time.Now,
	}
}

// Issue returns the next ticket for service.
func (b *TicketBook) Issue(ctx context.Context, service model.Service) (model.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return model.Ticket{}, err
	}
	if !service.Valid() {
		return model.Ticket{}, model.Invalid("service", fmt.Sprintf("unknown service %q", service))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	number := b.next
	b.next++
	ahead := number - b.nowServing
	if ahead < 0 {
		ahead = 0
	}
	return model.Ticket{
		QueueNumber:   number,
		Service:       service,
		ServiceLabel:  service.Label(),
		NowServing:    b.nowServing,
		PeopleAhead:   ahead,
		EstimatedWait: EstimateWait(ahead, b.minLo, b.minHi),
		IssuedAt:      b.now(),
	}, nil
}

// EstimateWait renders the wait for ahead people as a range in minutes,
// rounded to the nearest five.
func EstimateWait(ahead, minPerPerson, maxPerPerson int) string {
	if ahead <= 0 {
		return "now"
	}
	lo := roundFive(ahead * minPerPerson)
	hi := roundFive(ahead * maxPerPerson)
	if lo == hi {
		return fmt.Sprintf("%d mins", lo)
	}
	return fmt.Sprintf("%d-%d mins", lo, hi)
}

func roundFive(n int) int {
	r := (n + 2) / 5 * 5
	if r < 5 {
		return 5
	}
	return r
}

// RequesterView is the patient-side state.
type RequesterView struct {
	Step     Step          `json:"step"`
	Selected model.Service `json:"selected,omitempty"`
	Ticket   *model.Ticket `json:"ticket,omitempty"`
}

// Requester is the patient-side ticket flow: pick a service, confirm, and
// hold the ticket until cancelled.
type Requester struct {
	mu       sync.Mutex
	issuer   TicketIssuer
	step     Step
	selected model.Service
	ticket   *model.Ticket
}

// NewRequester returns a requester at the selection step.
func NewRequester(issuer TicketIssuer) *Requester {
	return &Requester{issuer: issuer, step: StepSelection}
}

// Select picks the service to queue for.
func (r *Requester) Select(service model.Service) error {
	if !service.Valid() {
		return model.Invalid("service", fmt.Sprintf("unknown service %q", service))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.step == StepTicket {
		return ErrTicketActive
	}
	r.selected = service
	return nil
}

// Confirm requests a ticket for the selected service.
func (r *Requester) Confirm(ctx context.Context) (model.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.step == StepTicket {
		return model.Ticket{}, ErrTicketActive
	}
	if r.selected == "" {
		return model.Ticket{}, ErrNoServiceSelected
	}

	ticket, err := r.issuer.Issue(ctx, r.selected)
	if err != nil {
		return model.Ticket{}, fmt.Errorf("issuing ticket: %w", err)
	}
	r.ticket = &ticket
	r.step = StepTicket
	return ticket, nil
}

// Cancel drops the ticket and returns to service selection.
func (r *Requester) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.step != StepTicket {
		return ErrNoTicket
	}
	r.step = StepSelection
	r.selected = ""
	r.ticket = nil
	return nil
}

// View returns the current state.
func (r *Requester) View() RequesterView {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := RequesterView{Step: r.step, Selected: r.selected}
	if r.ticket != nil {
		t := *r.ticket
		v.Ticket = &t
	}
	return v
}

// Requesters keeps one Requester per patient account.
type Requesters struct {
	mu     sync.Mutex
	issuer TicketIssuer
	byID   map[int64]*Requester
}

// NewRequesters returns an empty registry issuing from issuer.
func NewRequesters(issuer TicketIssuer) *Requesters {
	return &Requesters{issuer: issuer, byID: make(map[int64]*Requester)}
}

// For returns the requester of accountID, creating it on first use.
func (rs *Requesters) For(accountID int64) *Requester {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.byID[accountID]
	if !ok {
		r = NewRequester(rs.issuer)
		rs.byID[accountID] = r
	}
	return r
}
