package storage

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hairhub/platform/services/booking-service/internal/model"
)

// Seed is the directory snapshot loaded into a Memory store at startup.
type Seed struct {
	Users []struct {
		ID       string `json:"id"`
		FullName string `json:"full_name"`
		Phone    string `json:"phone"`
	} `json:"users"`
	Businesses []struct {
		ID      string `json:"id"`
		OwnerID string `json:"owner_id"`
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"businesses"`
	Workers []struct {
		ID         string `json:"id"`
		UserID     string `json:"user_id"`
		BusinessID string `json:"business_id"`
		Active     bool   `json:"active"`
	} `json:"workers"`
	Services []struct {
		ID              string `json:"id"`
		BusinessID      string `json:"business_id"`
		Name            string `json:"name"`
		DurationMinutes int    `json:"duration_minutes"`
		Price           string `json:"price"`
		Active          bool   `json:"active"`
	} `json:"services"`
	Availability []struct {
		WorkerID    string `json:"worker_id"`
		DayOfWeek   int    `json:"day_of_week"`
		StartMinute int    `json:"start_minute"`
		EndMinute   int    `json:"end_minute"`
		Enabled     bool   `json:"enabled"`
	} `json:"availability"`
}

func ReadSeed(r io.Reader) (Seed, error) {
	var s Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	return s, nil
}

// Load copies the seed into the directory tables, replacing entries with the
// same ids.
func (m *Memory) Load(s Seed) {
	for _, u := range s.Users {
		m.PutUser(model.User{ID: u.ID, FullName: u.FullName, Phone: u.Phone})
	}
	for _, b := range s.Businesses {
		m.PutBusiness(model.Business{ID: b.ID, OwnerID: b.OwnerID, Name: b.Name, Address: b.Address})
	}
	for _, w := range s.Workers {
		m.PutWorker(model.Worker{ID: w.ID, UserID: w.UserID, BusinessID: w.BusinessID, Active: w.Active})
	}
	for _, svc := range s.Services {
		m.PutService(model.Service{
			ID:              svc.ID,
			BusinessID:      svc.BusinessID,
			Name:            svc.Name,
			DurationMinutes: svc.DurationMinutes,
			Price:           svc.Price,
			Active:          svc.Active,
		})
	}
	byWorker := map[string][]model.Availability{}
	for _, a := range s.Availability {
		byWorker[a.WorkerID] = append(byWorker[a.WorkerID], model.Availability{
			DayOfWeek:   a.DayOfWeek,
			StartMinute: a.StartMinute,
			EndMinute:   a.EndMinute,
			Enabled:     a.Enabled,
		})
	}
	for workerID, entries := range byWorker {
		m.PutAvailability(workerID, entries...)
	}
}
