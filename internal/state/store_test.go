package state

import (
	"testing"
	"time"

	"github.com/gatewarden/warden/internal/model"
)

// helper: create a warden.db in a temp dir with migrations applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir() + "/warden.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testCluster(name string) *model.Cluster {
	now := time.Now().UTC()
	return &model.Cluster{
		ID:        "c-" + name,
		Name:      name,
		Endpoint:  "10.0.0.1:8000",
		APIKey:    "key-" + name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// --- clusters ---

func TestStore_Clusters_CRUD(t *testing.T) {
	store := newTestStore(t)

	c := testCluster("alpha")
	if err := store.CreateCluster(c); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetClusterByID(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != "alpha" || !got.IsActive {
		t.Fatalf("unexpected cluster: %+v", got)
	}
	if got.LastHandshake != nil || got.ContainerStatus != nil {
		t.Fatalf("fresh cluster should have nil runtime fields: %+v", got)
	}

	byKey, err := store.GetClusterByAPIKey("key-alpha")
	if err != nil {
		t.Fatal(err)
	}
	if byKey == nil || byKey.ID != c.ID {
		t.Fatalf("api key lookup failed: %+v", byKey)
	}
	if missing, err := store.GetClusterByAPIKey("nope"); err != nil || missing != nil {
		t.Fatalf("unknown api key should yield nil, got %+v, %v", missing, err)
	}

	if err := store.CreateCluster(testCluster("alpha")); !IsUniqueViolation(err) {
		t.Fatalf("duplicate name should be a unique violation, got %v", err)
	}

	deleted, err := store.DeleteCluster(c.ID)
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	deleted, err = store.DeleteCluster(c.ID)
	if err != nil || deleted {
		t.Fatalf("second delete should report false, got %v %v", deleted, err)
	}
}

func TestStore_UpdateClusterRuntime_WriteIfChanged(t *testing.T) {
	store := newTestStore(t)
	c := testCluster("beta")
	if err := store.CreateCluster(c); err != nil {
		t.Fatal(err)
	}

	name, status, proto := "amnezia-awg", "running", "awg"
	changed, err := store.UpdateClusterRuntime(c.ID, &name, &status, &proto, 5, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("first runtime write must report changed")
	}

	changed, err = store.UpdateClusterRuntime(c.ID, &name, &status, &proto, 5, 3)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Fatal("identical runtime write must report unchanged")
	}

	changed, err = store.UpdateClusterRuntime(c.ID, &name, &status, &proto, 5, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("online count change must report changed")
	}

	got, err := store.GetClusterByID(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ContainerName == nil || *got.ContainerName != "amnezia-awg" || got.OnlinePeersCount != 4 {
		t.Fatalf("runtime fields not persisted: %+v", got)
	}
}

func TestStore_UpdateLastHandshake(t *testing.T) {
	store := newTestStore(t)
	c := testCluster("gamma")
	if err := store.CreateCluster(c); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	if err := store.UpdateLastHandshake(c.ID, at); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetClusterByID(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastHandshake == nil || !got.LastHandshake.Equal(at) {
		t.Fatalf("handshake not stamped: %+v", got.LastHandshake)
	}
}

// --- clients ---

func testClient(username string, expiresAt *time.Time, status model.SubscriptionStatus) *model.Client {
	now := time.Now().UTC()
	return &model.Client{
		ID:                 "u-" + username,
		Username:           username,
		ExpiresAt:          expiresAt,
		SubscriptionStatus: status,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestStore_Clients_CRUD(t *testing.T) {
	store := newTestStore(t)

	if err := store.CreateClient(testClient("ada", nil, model.SubscriptionActive)); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetClientByUsername("ada")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ExpiresAt != nil || got.SubscriptionStatus != model.SubscriptionActive {
		t.Fatalf("unexpected client: %+v", got)
	}

	if err := store.CreateClient(testClient("ada", nil, model.SubscriptionActive)); !IsUniqueViolation(err) {
		t.Fatalf("duplicate username should be a unique violation, got %v", err)
	}

	past := time.Now().Add(-time.Hour).UTC()
	got.ExpiresAt = &past
	got.SubscriptionStatus = model.SubscriptionExpired
	got.TrialUsed = true
	if err := store.UpdateClientSubscription(got); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetClientByID(got.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SubscriptionStatus != model.SubscriptionExpired || !got.TrialUsed || got.ExpiresAt == nil {
		t.Fatalf("subscription update not persisted: %+v", got)
	}
}

func TestStore_ListExpireCandidates(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	// Lapsed trial: candidate.
	if err := store.CreateClient(testClient("lapsed", &past, model.SubscriptionTrial)); err != nil {
		t.Fatal(err)
	}
	// Still valid: not a candidate.
	if err := store.CreateClient(testClient("valid", &future, model.SubscriptionActive)); err != nil {
		t.Fatal(err)
	}
	// No expiry at all: never a candidate.
	if err := store.CreateClient(testClient("forever", nil, model.SubscriptionActive)); err != nil {
		t.Fatal(err)
	}
	// Already expired: not a candidate again.
	if err := store.CreateClient(testClient("done", &past, model.SubscriptionExpired)); err != nil {
		t.Fatal(err)
	}

	candidates, err := store.ListExpireCandidates(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 || candidates[0].Username != "lapsed" {
		t.Fatalf("expected only the lapsed client, got %+v", candidates)
	}
}

// --- peers ---

func testPeer(id, clientID, clusterID, publicKey string) *model.Peer {
	now := time.Now().UTC()
	return &model.Peer{
		ID:             id,
		ClientID:       clientID,
		ClusterID:      clusterID,
		PublicKey:      publicKey,
		PrivateKeyHash: "$2a$10$hash",
		AllocatedIP:    "10.8.0.2",
		Endpoint:       "10.0.0.1:51820",
		AppType:        model.AppTypeAmneziaWG,
		Protocol:       "awg",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestStore_Peers_CRUD(t *testing.T) {
	store := newTestStore(t)
	cluster := testCluster("delta")
	if err := store.CreateCluster(cluster); err != nil {
		t.Fatal(err)
	}
	client := testClient("bob", nil, model.SubscriptionActive)
	if err := store.CreateClient(client); err != nil {
		t.Fatal(err)
	}

	p := testPeer("p-1", client.ID, cluster.ID, "pk-1")
	if err := store.CreatePeer(p); err != nil {
		t.Fatal(err)
	}
	if err := store.CreatePeer(testPeer("p-2", client.ID, cluster.ID, "pk-1")); !IsUniqueViolation(err) {
		t.Fatalf("duplicate public key should be a unique violation, got %v", err)
	}

	byKey, err := store.GetPeerByPublicKey("pk-1")
	if err != nil {
		t.Fatal(err)
	}
	if byKey == nil || byKey.ID != "p-1" {
		t.Fatalf("public key lookup failed: %+v", byKey)
	}

	p.PublicKey = "pk-1b"
	p.AppType = model.AppTypeAmneziaVPN
	if err := store.UpdatePeerMaterial(p); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetPeerByID("p-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.PublicKey != "pk-1b" || got.AppType != model.AppTypeAmneziaVPN {
		t.Fatalf("material update not persisted: %+v", got)
	}

	byClient, err := store.ListPeersByClient(client.ID)
	if err != nil || len(byClient) != 1 {
		t.Fatalf("list by client: %v %v", byClient, err)
	}

	n, err := store.DeletePeersByClient(client.ID)
	if err != nil || n != 1 {
		t.Fatalf("delete by client: %d %v", n, err)
	}
}

func TestStore_PeerCounts(t *testing.T) {
	store := newTestStore(t)
	cluster := testCluster("epsilon")
	if err := store.CreateCluster(cluster); err != nil {
		t.Fatal(err)
	}
	for _, u := range []string{"u1", "u2"} {
		if err := store.CreateClient(testClient(u, nil, model.SubscriptionActive)); err != nil {
			t.Fatal(err)
		}
	}
	peers := []*model.Peer{
		testPeer("p-1", "u-u1", cluster.ID, "pk-a"),
		testPeer("p-2", "u-u1", cluster.ID, "pk-b"),
		testPeer("p-3", "u-u2", cluster.ID, "pk-c"),
	}
	peers[2].AppType = model.AppTypeAmneziaVPN
	for _, p := range peers {
		if err := store.CreatePeer(p); err != nil {
			t.Fatal(err)
		}
	}

	total, byAppType, err := store.CountPeersByAppType(cluster.ID)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || byAppType[model.AppTypeAmneziaWG] != 2 || byAppType[model.AppTypeAmneziaVPN] != 1 {
		t.Fatalf("unexpected counts: total=%d byAppType=%v", total, byAppType)
	}

	clients, err := store.CountClusterClients(cluster.ID)
	if err != nil || clients != 2 {
		t.Fatalf("distinct clients: %d %v", clients, err)
	}
}

// --- tariffs ---

func TestStore_Tariffs_CRUD(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	tariff := &model.Tariff{
		ID: "t-1", Code: "month", Name: "1 Month", Days: 30,
		PriceRub: 300, PriceStars: 150, IsActive: true, SortOrder: 1,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateTariff(tariff); err != nil {
		t.Fatal(err)
	}
	inactive := &model.Tariff{
		ID: "t-2", Code: "year", Name: "1 Year", Days: 365,
		PriceRub: 3000, PriceStars: 1500, IsActive: false, SortOrder: 2,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateTariff(inactive); err != nil {
		t.Fatal(err)
	}

	byCode, err := store.GetTariffByCode("month")
	if err != nil || byCode == nil || byCode.Days != 30 {
		t.Fatalf("code lookup: %+v %v", byCode, err)
	}

	all, err := store.ListTariffs(false)
	if err != nil || len(all) != 2 {
		t.Fatalf("list all: %v %v", all, err)
	}
	active, err := store.ListTariffs(true)
	if err != nil || len(active) != 1 || active[0].Code != "month" {
		t.Fatalf("list active: %v %v", active, err)
	}

	tariff.PriceRub = 350
	if err := store.UpdateTariff(tariff); err != nil {
		t.Fatal(err)
	}
	byCode, _ = store.GetTariffByCode("month")
	if byCode.PriceRub != 350 {
		t.Fatalf("update not persisted: %+v", byCode)
	}
}
