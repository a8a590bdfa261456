package model

// VehicleSnapshot is the display data of a vehicle owned by the catalog service.
type VehicleSnapshot struct {
	ID    string `json:"id"`
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  int    `json:"year,omitempty"`
	Plate string `json:"plate,omitempty"`
}

// VehicleRef is either a bare id or an id with its resolved snapshot. Snapshots
// are filled in once, at the notification boundary.
type VehicleRef struct {
	ID       string           `json:"id"`
	Snapshot *VehicleSnapshot `json:"snapshot,omitempty"`
}

func VehicleID(id string) VehicleRef {
	return VehicleRef{ID: id}
}

func (r VehicleRef) Resolved() bool {
	return r.Snapshot != nil
}

// Label is a human readable description, falling back to the id.
func (r VehicleRef) Label() string {
	if r.Snapshot == nil {
		return "vehicle " + r.ID
	}
	s := r.Snapshot
	label := s.Make + " " + s.Model
	if s.Plate != "" {
		label += " (" + s.Plate + ")"
	}
	return label
}

func (r VehicleRef) Clone() VehicleRef {
	if r.Snapshot == nil {
		return r
	}
	snap := *r.Snapshot
	return VehicleRef{ID: r.ID, Snapshot: &snap}
}
