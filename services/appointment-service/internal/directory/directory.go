// Package directory looks up users, technicians and vehicles owned by other
// services.
package directory

import (
	"context"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

type Users interface {
	GetUser(ctx context.Context, id string) (model.User, error)
	ListByRole(ctx context.Context, role string) ([]model.User, error)
}

type Technicians interface {
	ListTechnicians(ctx context.Context) ([]model.Technician, error)
}

type Vehicles interface {
	GetVehicle(ctx context.Context, id string) (model.VehicleSnapshot, error)
}
