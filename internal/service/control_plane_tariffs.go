package service

import (
	"strings"

	"github.com/google/uuid"

	"github.com/gatewarden/warden/internal/model"
	"github.com/gatewarden/warden/internal/state"
)

// TariffInput carries the fields of a tariff create or update.
type TariffInput struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Days       int    `json:"days"`
	PriceRub   int    `json:"price_rub"`
	PriceStars int    `json:"price_stars"`
	IsActive   bool   `json:"is_active"`
	SortOrder  int    `json:"sort_order"`
}

func (in *TariffInput) validate() *ServiceError {
	if strings.TrimSpace(in.Code) == "" {
		return invalidArg("code must not be empty")
	}
	if strings.TrimSpace(in.Name) == "" {
		return invalidArg("name must not be empty")
	}
	if in.Days <= 0 {
		return invalidArg("days must be positive")
	}
	if in.PriceRub < 0 || in.PriceStars < 0 {
		return invalidArg("prices must not be negative")
	}
	return nil
}

// CreateTariff registers a new purchasable tariff.
func (cp *ControlPlane) CreateTariff(in TariffInput) (*model.Tariff, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := cp.now()
	tariff := &model.Tariff{
		ID:         uuid.NewString(),
		Code:       strings.TrimSpace(in.Code),
		Name:       strings.TrimSpace(in.Name),
		Days:       in.Days,
		PriceRub:   in.PriceRub,
		PriceStars: in.PriceStars,
		IsActive:   in.IsActive,
		SortOrder:  in.SortOrder,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := cp.Store.CreateTariff(tariff); err != nil {
		if state.IsUniqueViolation(err) {
			return nil, conflict("tariff code already in use")
		}
		return nil, internal("create tariff", err)
	}
	return tariff, nil
}

// GetTariff returns one tariff by id.
func (cp *ControlPlane) GetTariff(id string) (*model.Tariff, error) {
	tariff, err := cp.Store.GetTariffByID(id)
	if err != nil {
		return nil, internal("get tariff", err)
	}
	if tariff == nil {
		return nil, notFound("tariff not found")
	}
	return tariff, nil
}

// ListTariffs returns tariffs in display order. activeOnly hides the ones
// no longer on sale.
func (cp *ControlPlane) ListTariffs(activeOnly bool) ([]model.Tariff, error) {
	tariffs, err := cp.Store.ListTariffs(activeOnly)
	if err != nil {
		return nil, internal("list tariffs", err)
	}
	return tariffs, nil
}

// UpdateTariff overwrites a tariff's fields. The code is immutable; it is
// the identifier purchase flows reference.
func (cp *ControlPlane) UpdateTariff(id string, in TariffInput) (*model.Tariff, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	tariff, err := cp.Store.GetTariffByID(id)
	if err != nil {
		return nil, internal("get tariff", err)
	}
	if tariff == nil {
		return nil, notFound("tariff not found")
	}
	tariff.Name = strings.TrimSpace(in.Name)
	tariff.Days = in.Days
	tariff.PriceRub = in.PriceRub
	tariff.PriceStars = in.PriceStars
	tariff.IsActive = in.IsActive
	tariff.SortOrder = in.SortOrder
	if err := cp.Store.UpdateTariff(tariff); err != nil {
		return nil, internal("update tariff", err)
	}
	return tariff, nil
}

// DeleteTariff removes a tariff.
func (cp *ControlPlane) DeleteTariff(id string) error {
	deleted, err := cp.Store.DeleteTariff(id)
	if err != nil {
		return internal("delete tariff", err)
	}
	if !deleted {
		return notFound("tariff not found")
	}
	return nil
}
