package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gatewarden/warden/internal/model"
)

const clusterColumns = `id, name, endpoint, api_key, is_active, last_handshake_ns,
	container_status, container_name, protocol, peers_count, online_peers_count,
	created_at_ns, updated_at_ns`

func scanCluster(row interface{ Scan(...any) error }) (*model.Cluster, error) {
	var (
		c               model.Cluster
		isActive        int
		lastHandshakeNs sql.NullInt64
		containerStatus sql.NullString
		containerName   sql.NullString
		protocol        sql.NullString
		createdNs       int64
		updatedNs       int64
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.Endpoint, &c.APIKey, &isActive, &lastHandshakeNs,
		&containerStatus, &containerName, &protocol, &c.PeersCount, &c.OnlinePeersCount,
		&createdNs, &updatedNs,
	)
	if err != nil {
		return nil, err
	}
	c.IsActive = isActive != 0
	c.LastHandshake = nullNsToTime(lastHandshakeNs)
	c.ContainerStatus = stringPtr(containerStatus)
	c.ContainerName = stringPtr(containerName)
	c.Protocol = stringPtr(protocol)
	c.CreatedAt = nsToTime(createdNs)
	c.UpdatedAt = nsToTime(updatedNs)
	return &c, nil
}

// CreateCluster inserts a new cluster record.
func (s *Store) CreateCluster(c *model.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO clusters (id, name, endpoint, api_key, is_active, last_handshake_ns,
			container_status, container_name, protocol, peers_count, online_peers_count,
			created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Name, c.Endpoint, c.APIKey, boolToInt(c.IsActive), timeToNullNs(c.LastHandshake),
		nullString(c.ContainerStatus), nullString(c.ContainerName), nullString(c.Protocol),
		c.PeersCount, c.OnlinePeersCount, c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano())
	return err
}

// GetClusterByID returns the cluster with the given id, or nil if absent.
func (s *Store) GetClusterByID(id string) (*model.Cluster, error) {
	row := s.db.QueryRow("SELECT "+clusterColumns+" FROM clusters WHERE id = ?", id)
	c, err := scanCluster(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan cluster: %w", err)
	}
	return c, nil
}

// GetClusterByName returns the cluster with the given name, or nil if absent.
func (s *Store) GetClusterByName(name string) (*model.Cluster, error) {
	row := s.db.QueryRow("SELECT "+clusterColumns+" FROM clusters WHERE name = ?", name)
	c, err := scanCluster(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan cluster: %w", err)
	}
	return c, nil
}

// GetClusterByAPIKey resolves a cluster by its pre-shared secret. This is
// the sync-ingest authentication lookup; nil means no cluster matches.
func (s *Store) GetClusterByAPIKey(apiKey string) (*model.Cluster, error) {
	row := s.db.QueryRow("SELECT "+clusterColumns+" FROM clusters WHERE api_key = ?", apiKey)
	c, err := scanCluster(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan cluster: %w", err)
	}
	return c, nil
}

// ListClusters returns all clusters ordered by name.
func (s *Store) ListClusters() ([]model.Cluster, error) {
	rows, err := s.db.Query("SELECT " + clusterColumns + " FROM clusters ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query clusters: %w", err)
	}
	defer rows.Close()

	var out []model.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateCluster overwrites the administrative fields of a cluster.
func (s *Store) UpdateCluster(c *model.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE clusters SET name = ?, endpoint = ?, api_key = ?, is_active = ?, updated_at_ns = ?
		WHERE id = ?
	`, c.Name, c.Endpoint, c.APIKey, boolToInt(c.IsActive), time.Now().UnixNano(), c.ID)
	return err
}

// DeleteCluster removes a cluster row. Dependent peer rows must already be
// gone; ordered deletion is the service layer's responsibility.
func (s *Store) DeleteCluster(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM clusters WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateLastHandshake stamps the cluster's handshake timestamp. Called
// unconditionally on every authenticated sync push.
func (s *Store) UpdateLastHandshake(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE clusters SET last_handshake_ns = ?, updated_at_ns = ? WHERE id = ?",
		at.UnixNano(), at.UnixNano(), id)
	return err
}

// UpdateClusterRuntime reconciles the runtime descriptors and denormalized
// counters reported by a sync push. The row is written only when at least
// one field differs from the stored value; the return reports whether a
// durable write occurred.
func (s *Store) UpdateClusterRuntime(
	id string,
	containerName, containerStatus, protocol *string,
	peersCount, onlinePeersCount int,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		"SELECT container_name, container_status, protocol, peers_count, online_peers_count FROM clusters WHERE id = ?",
		id)
	var (
		curName, curStatus, curProto sql.NullString
		curPeers, curOnline          int
	)
	if err := row.Scan(&curName, &curStatus, &curProto, &curPeers, &curOnline); err != nil {
		if err == sql.ErrNoRows {
			return false, fmt.Errorf("cluster %s not found", id)
		}
		return false, fmt.Errorf("scan cluster runtime: %w", err)
	}

	if equalNullStr(curName, containerName) &&
		equalNullStr(curStatus, containerStatus) &&
		equalNullStr(curProto, protocol) &&
		curPeers == peersCount &&
		curOnline == onlinePeersCount {
		return false, nil
	}

	_, err := s.db.Exec(`
		UPDATE clusters SET container_name = ?, container_status = ?, protocol = ?,
			peers_count = ?, online_peers_count = ?, updated_at_ns = ?
		WHERE id = ?
	`, nullString(containerName), nullString(containerStatus), nullString(protocol),
		peersCount, onlinePeersCount, time.Now().UnixNano(), id)
	if err != nil {
		return false, err
	}
	return true, nil
}

// CountClusters returns total and active cluster counts.
func (s *Store) CountClusters() (total, active int, err error) {
	row := s.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(is_active), 0) FROM clusters")
	if err := row.Scan(&total, &active); err != nil {
		return 0, 0, fmt.Errorf("count clusters: %w", err)
	}
	return total, active, nil
}

func equalNullStr(cur sql.NullString, next *string) bool {
	if next == nil {
		return !cur.Valid
	}
	return cur.Valid && cur.String == *next
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
