package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gatewarden/warden/internal/model"
)

const peerColumns = `id, client_id, cluster_id, public_key, private_key_hash,
	allocated_ip, endpoint, app_type, protocol, created_at_ns, updated_at_ns`

func scanPeer(row interface{ Scan(...any) error }) (*model.Peer, error) {
	var (
		p         model.Peer
		appType   string
		createdNs int64
		updatedNs int64
	)
	err := row.Scan(&p.ID, &p.ClientID, &p.ClusterID, &p.PublicKey, &p.PrivateKeyHash,
		&p.AllocatedIP, &p.Endpoint, &appType, &p.Protocol, &createdNs, &updatedNs)
	if err != nil {
		return nil, err
	}
	p.AppType = model.AppType(appType)
	if !p.AppType.IsValid() {
		return nil, fmt.Errorf("peer %s: unknown app type %q", p.ID, appType)
	}
	p.CreatedAt = nsToTime(createdNs)
	p.UpdatedAt = nsToTime(updatedNs)
	return &p, nil
}

// CreatePeer inserts a new peer record. A duplicate public key surfaces as
// a UNIQUE constraint error (see IsUniqueViolation).
func (s *Store) CreatePeer(p *model.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO peers (id, client_id, cluster_id, public_key, private_key_hash,
			allocated_ip, endpoint, app_type, protocol, created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.ClientID, p.ClusterID, p.PublicKey, p.PrivateKeyHash,
		p.AllocatedIP, p.Endpoint, string(p.AppType), p.Protocol,
		p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano())
	return err
}

// GetPeerByID returns the peer with the given id, or nil if absent.
func (s *Store) GetPeerByID(id string) (*model.Peer, error) {
	row := s.db.QueryRow("SELECT "+peerColumns+" FROM peers WHERE id = ?", id)
	p, err := scanPeer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan peer: %w", err)
	}
	return p, nil
}

// GetPeerByPublicKey returns the peer holding the given public key, or nil.
func (s *Store) GetPeerByPublicKey(publicKey string) (*model.Peer, error) {
	row := s.db.QueryRow("SELECT "+peerColumns+" FROM peers WHERE public_key = ?", publicKey)
	p, err := scanPeer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan peer: %w", err)
	}
	return p, nil
}

// ListPeers returns all peers.
func (s *Store) ListPeers() ([]model.Peer, error) {
	return s.queryPeers("SELECT " + peerColumns + " FROM peers ORDER BY created_at_ns")
}

// ListPeersByClient returns the peers owned by a client.
func (s *Store) ListPeersByClient(clientID string) ([]model.Peer, error) {
	return s.queryPeers("SELECT "+peerColumns+" FROM peers WHERE client_id = ? ORDER BY created_at_ns", clientID)
}

// ListPeersByCluster returns the peers hosted on a cluster.
func (s *Store) ListPeersByCluster(clusterID string) ([]model.Peer, error) {
	return s.queryPeers("SELECT "+peerColumns+" FROM peers WHERE cluster_id = ? ORDER BY created_at_ns", clusterID)
}

func (s *Store) queryPeers(query string, args ...any) ([]model.Peer, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	var out []model.Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdatePeerMaterial overwrites the node-issued material of a peer after a
// delete-then-recreate update: key pair, allocation, endpoint, and type.
func (s *Store) UpdatePeerMaterial(p *model.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE peers SET public_key = ?, private_key_hash = ?, allocated_ip = ?,
			endpoint = ?, app_type = ?, protocol = ?, updated_at_ns = ?
		WHERE id = ?
	`, p.PublicKey, p.PrivateKeyHash, p.AllocatedIP, p.Endpoint,
		string(p.AppType), p.Protocol, time.Now().UnixNano(), p.ID)
	return err
}

// DeletePeer removes a peer row.
func (s *Store) DeletePeer(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM peers WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeletePeersByClient removes all peer rows owned by a client and returns
// how many were deleted.
func (s *Store) DeletePeersByClient(clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM peers WHERE client_id = ?", clientID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeletePeersByCluster removes all peer rows hosted on a cluster and
// returns how many were deleted.
func (s *Store) DeletePeersByCluster(clusterID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM peers WHERE cluster_id = ?", clusterID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountPeersByAppType returns total peers and a per-app-type breakdown.
// Pass a non-empty clusterID to scope the counts to one cluster.
func (s *Store) CountPeersByAppType(clusterID string) (total int, byAppType map[model.AppType]int, err error) {
	query := "SELECT app_type, COUNT(*) FROM peers GROUP BY app_type"
	args := []any{}
	if clusterID != "" {
		query = "SELECT app_type, COUNT(*) FROM peers WHERE cluster_id = ? GROUP BY app_type"
		args = append(args, clusterID)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("count peers: %w", err)
	}
	defer rows.Close()

	byAppType = make(map[model.AppType]int)
	for rows.Next() {
		var appType string
		var n int
		if err := rows.Scan(&appType, &n); err != nil {
			return 0, nil, fmt.Errorf("scan peer counts: %w", err)
		}
		byAppType[model.AppType(appType)] = n
		total += n
	}
	return total, byAppType, rows.Err()
}

// CountClusterClients returns the number of distinct clients with at least
// one peer on the given cluster.
func (s *Store) CountClusterClients(clusterID string) (int, error) {
	row := s.db.QueryRow("SELECT COUNT(DISTINCT client_id) FROM peers WHERE cluster_id = ?", clusterID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count cluster clients: %w", err)
	}
	return n, nil
}
