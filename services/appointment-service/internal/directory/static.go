package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

// Static is an in-memory directory, seeded from a JSON file in development.
type Static struct {
	mu       sync.RWMutex
	users    map[string]model.User
	techs    map[string]model.Technician
	vehicles map[string]model.VehicleSnapshot
}

func NewStatic() *Static {
	return &Static{
		users:    map[string]model.User{},
		techs:    map[string]model.Technician{},
		vehicles: map[string]model.VehicleSnapshot{},
	}
}

type seed struct {
	Users       []model.User            `json:"users"`
	Technicians []model.Technician      `json:"technicians"`
	Vehicles    []model.VehicleSnapshot `json:"vehicles"`
}

// LoadStatic reads a seed file with "users", "technicians" and "vehicles".
func LoadStatic(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s seed
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse directory seed %s: %w", path, err)
	}
	d := NewStatic()
	for _, u := range s.Users {
		d.PutUser(u)
	}
	for _, t := range s.Technicians {
		d.PutTechnician(t)
	}
	for _, v := range s.Vehicles {
		d.PutVehicle(v)
	}
	return d, nil
}

func (d *Static) PutUser(u model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *Static) PutTechnician(t model.Technician) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.techs[t.UserID] = t
}

func (d *Static) PutVehicle(v model.VehicleSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vehicles[v.ID] = v
}

func (d *Static) GetUser(_ context.Context, id string) (model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return u, nil
}

func (d *Static) ListByRole(_ context.Context, role string) ([]model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []model.User
	for _, u := range d.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Static) ListTechnicians(_ context.Context) ([]model.Technician, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.Technician, 0, len(d.techs))
	for _, t := range d.techs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

func (d *Static) GetVehicle(_ context.Context, id string) (model.VehicleSnapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.vehicles[id]
	if !ok {
		return model.VehicleSnapshot{}, model.ErrNotFound
	}
	return v, nil
}
