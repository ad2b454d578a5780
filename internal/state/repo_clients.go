package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gatewarden/warden/internal/model"
)

const clientColumns = `id, username, expires_at_ns, subscription_status, trial_used,
	last_subscription_at_ns, created_at_ns, updated_at_ns`

func scanClient(row interface{ Scan(...any) error }) (*model.Client, error) {
	var (
		c         model.Client
		expiresNs sql.NullInt64
		status    string
		trialUsed int
		lastSubNs sql.NullInt64
		createdNs int64
		updatedNs int64
	)
	err := row.Scan(&c.ID, &c.Username, &expiresNs, &status, &trialUsed, &lastSubNs, &createdNs, &updatedNs)
	if err != nil {
		return nil, err
	}
	c.SubscriptionStatus = model.SubscriptionStatus(status)
	if !c.SubscriptionStatus.IsValid() {
		return nil, fmt.Errorf("client %s: unknown subscription status %q", c.ID, status)
	}
	c.ExpiresAt = nullNsToTime(expiresNs)
	c.TrialUsed = trialUsed != 0
	c.LastSubscriptionAt = nullNsToTime(lastSubNs)
	c.CreatedAt = nsToTime(createdNs)
	c.UpdatedAt = nsToTime(updatedNs)
	return &c, nil
}

// CreateClient inserts a new client record.
func (s *Store) CreateClient(c *model.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO clients (id, username, expires_at_ns, subscription_status, trial_used,
			last_subscription_at_ns, created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Username, timeToNullNs(c.ExpiresAt), string(c.SubscriptionStatus),
		boolToInt(c.TrialUsed), timeToNullNs(c.LastSubscriptionAt),
		c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano())
	return err
}

// GetClientByID returns the client with the given id, or nil if absent.
func (s *Store) GetClientByID(id string) (*model.Client, error) {
	row := s.db.QueryRow("SELECT "+clientColumns+" FROM clients WHERE id = ?", id)
	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan client: %w", err)
	}
	return c, nil
}

// GetClientByUsername returns the client with the given username, or nil.
func (s *Store) GetClientByUsername(username string) (*model.Client, error) {
	row := s.db.QueryRow("SELECT "+clientColumns+" FROM clients WHERE username = ?", username)
	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan client: %w", err)
	}
	return c, nil
}

// ListClients returns all clients ordered by username.
func (s *Store) ListClients() ([]model.Client, error) {
	rows, err := s.db.Query("SELECT " + clientColumns + " FROM clients ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	defer rows.Close()

	var out []model.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ListExpireCandidates returns clients whose expires_at is non-null, in the
// past relative to now, and whose status is not already expired. Clients
// with a null expires_at never expire and are excluded here by construction.
func (s *Store) ListExpireCandidates(now time.Time) ([]model.Client, error) {
	rows, err := s.db.Query(`
		SELECT `+clientColumns+` FROM clients
		WHERE expires_at_ns IS NOT NULL AND expires_at_ns < ? AND subscription_status != ?
		ORDER BY expires_at_ns
	`, now.UnixNano(), string(model.SubscriptionExpired))
	if err != nil {
		return nil, fmt.Errorf("query expire candidates: %w", err)
	}
	defer rows.Close()

	var out []model.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateClientSubscription overwrites the subscription lifecycle fields.
func (s *Store) UpdateClientSubscription(c *model.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE clients SET expires_at_ns = ?, subscription_status = ?, trial_used = ?,
			last_subscription_at_ns = ?, updated_at_ns = ?
		WHERE id = ?
	`, timeToNullNs(c.ExpiresAt), string(c.SubscriptionStatus), boolToInt(c.TrialUsed),
		timeToNullNs(c.LastSubscriptionAt), time.Now().UnixNano(), c.ID)
	return err
}

// DeleteClient removes a client row. Dependent peer rows must already be
// gone; ordered deletion is the service layer's responsibility.
func (s *Store) DeleteClient(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM clients WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountClientsByStatus returns total clients and a per-status breakdown.
func (s *Store) CountClientsByStatus() (total int, byStatus map[model.SubscriptionStatus]int, err error) {
	rows, err := s.db.Query("SELECT subscription_status, COUNT(*) FROM clients GROUP BY subscription_status")
	if err != nil {
		return 0, nil, fmt.Errorf("count clients: %w", err)
	}
	defer rows.Close()

	byStatus = make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, nil, fmt.Errorf("scan client counts: %w", err)
		}
		byStatus[model.SubscriptionStatus(status)] = n
		total += n
	}
	return total, byStatus, rows.Err()
}
