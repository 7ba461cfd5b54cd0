// Package seed loads the demo patients, medicines and ticket book the
// service starts with.
package seed

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/barriomed/clinic/internal/model"
	"github.com/barriomed/clinic/internal/queue"
)

//go:embed default.yaml
var defaultSeed []byte

// Data is the decoded seed.
type Data struct {
	Patients   []model.Patient        `yaml:"patients"`
	Medicines  []model.Medicine       `yaml:"medicines"`
	TicketBook queue.TicketBookConfig `yaml:"ticket_book"`
}

type medicine struct {
	model.Medicine `yaml:",inline"`
	UpdatedAgo     string `yaml:"updated_ago"`
}

type file struct {
	Patients   []model.Patient        `yaml:"patients"`
	Medicines  []medicine             `yaml:"medicines"`
	TicketBook queue.TicketBookConfig `yaml:"ticket_book"`
}

// Default returns the embedded seed.
func Default(now time.Time) (*Data, error) {
	return Parse(defaultSeed, now)
}

// Load reads a seed file. An empty path returns the embedded seed.
func Load(path string, now time.Time) (*Data, error) {
	if path == "" {
		return Default(now)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return Parse(data, now)
}

// Parse decodes a seed document. Medicines may give updated_ago, a duration
// before now, instead of an absolute updated_at.
func Parse(data []byte, now time.Time) (*Data, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}

	d := &Data{
		Patients:   f.Patients,
		Medicines:  make([]model.Medicine, 0, len(f.Medicines)),
		TicketBook: f.TicketBook,
	}
	for _, m := range f.Medicines {
		med := m.Medicine
		if m.UpdatedAgo != "" {
			ago, err := time.ParseDuration(m.UpdatedAgo)
			if err != nil {
				return nil, fmt.Errorf("medicine %s: bad updated_ago: %w", med.ID, err)
			}
			med.UpdatedAt = now.Add(-ago)
		}
		d.Medicines = append(d.Medicines, med)
	}

	tb := &d.TicketBook
	if tb.MinutesPerPerson.Min <= 0 || tb.MinutesPerPerson.Max < tb.MinutesPerPerson.Min {
		return nil, fmt.Errorf("ticket_book: invalid minutes_per_person %d-%d",
			tb.MinutesPerPerson.Min, tb.MinutesPerPerson.Max)
	}
	if tb.NextNumber <= tb.NowServing {
		return nil, fmt.Errorf("ticket_book: next_number %d must be after now_serving %d",
			tb.NextNumber, tb.NowServing)
	}
	return d, nil
}
