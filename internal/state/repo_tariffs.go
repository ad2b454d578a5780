package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gatewarden/warden/internal/model"
)

const tariffColumns = `id, code, name, days, price_rub, price_stars, is_active,
	sort_order, created_at_ns, updated_at_ns`

func scanTariff(row interface{ Scan(...any) error }) (*model.Tariff, error) {
	var (
		t         model.Tariff
		isActive  int
		createdNs int64
		updatedNs int64
	)
	err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Days, &t.PriceRub, &t.PriceStars,
		&isActive, &t.SortOrder, &createdNs, &updatedNs)
	if err != nil {
		return nil, err
	}
	t.IsActive = isActive != 0
	t.CreatedAt = nsToTime(createdNs)
	t.UpdatedAt = nsToTime(updatedNs)
	return &t, nil
}

// CreateTariff inserts a new tariff record.
func (s *Store) CreateTariff(t *model.Tariff) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO tariffs (id, code, name, days, price_rub, price_stars, is_active,
			sort_order, created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Code, t.Name, t.Days, t.PriceRub, t.PriceStars, boolToInt(t.IsActive),
		t.SortOrder, t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano())
	return err
}

// GetTariffByID returns the tariff with the given id, or nil if absent.
func (s *Store) GetTariffByID(id string) (*model.Tariff, error) {
	row := s.db.QueryRow("SELECT "+tariffColumns+" FROM tariffs WHERE id = ?", id)
	t, err := scanTariff(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan tariff: %w", err)
	}
	return t, nil
}

// GetTariffByCode returns the tariff with the given code, or nil if absent.
func (s *Store) GetTariffByCode(code string) (*model.Tariff, error) {
	row := s.db.QueryRow("SELECT "+tariffColumns+" FROM tariffs WHERE code = ?", code)
	t, err := scanTariff(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan tariff: %w", err)
	}
	return t, nil
}

// ListTariffs returns tariffs ordered by sort_order then creation time.
// When activeOnly is set, inactive tariffs are excluded.
func (s *Store) ListTariffs(activeOnly bool) ([]model.Tariff, error) {
	query := "SELECT " + tariffColumns + " FROM tariffs ORDER BY sort_order, created_at_ns"
	if activeOnly {
		query = "SELECT " + tariffColumns + " FROM tariffs WHERE is_active = 1 ORDER BY sort_order, created_at_ns"
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query tariffs: %w", err)
	}
	defer rows.Close()

	var out []model.Tariff
	for rows.Next() {
		t, err := scanTariff(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tariff: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTariff overwrites the mutable fields of a tariff.
func (s *Store) UpdateTariff(t *model.Tariff) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE tariffs SET name = ?, days = ?, price_rub = ?, price_stars = ?,
			is_active = ?, sort_order = ?, updated_at_ns = ?
		WHERE id = ?
	`, t.Name, t.Days, t.PriceRub, t.PriceStars, boolToInt(t.IsActive),
		t.SortOrder, time.Now().UnixNano(), t.ID)
	return err
}

// DeleteTariff removes a tariff row.
func (s *Store) DeleteTariff(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM tariffs WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
