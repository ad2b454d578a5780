package subscription

import (
	"testing"
	"time"

	"github.com/gatewarden/warden/internal/model"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestInitialState(t *testing.T) {
	tests := []struct {
		name       string
		policy     Policy
		admin      bool
		wantStatus model.SubscriptionStatus
		wantExpiry *time.Duration // offset from now, nil means no expiry
		wantTrial  bool
	}{
		{
			name:       "subscriptions disabled",
			policy:     Policy{Enabled: false, TrialEnabled: true, TrialPeriod: 7 * 24 * time.Hour},
			wantStatus: model.SubscriptionActive,
		},
		{
			name:       "admin bypasses trial",
			policy:     Policy{Enabled: true, TrialEnabled: true, TrialPeriod: 7 * 24 * time.Hour},
			admin:      true,
			wantStatus: model.SubscriptionActive,
		},
		{
			name:       "trial granted but not yet consumed",
			policy:     Policy{Enabled: true, TrialEnabled: true, TrialPeriod: 7 * 24 * time.Hour},
			wantStatus: model.SubscriptionTrial,
			wantExpiry: durationPtr(7 * 24 * time.Hour),
		},
		{
			name:       "no trial available",
			policy:     Policy{Enabled: true, TrialEnabled: false},
			wantStatus: model.SubscriptionExpired,
			wantExpiry: durationPtr(0),
			wantTrial:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.InitialState(now, tt.admin)
			if got.Status != tt.wantStatus {
				t.Fatalf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if tt.wantExpiry == nil {
				if got.ExpiresAt != nil {
					t.Fatalf("expected no expiry, got %v", got.ExpiresAt)
				}
			} else if got.ExpiresAt == nil || !got.ExpiresAt.Equal(now.Add(*tt.wantExpiry)) {
				t.Fatalf("expiry = %v, want %v", got.ExpiresAt, now.Add(*tt.wantExpiry))
			}
			if got.TrialUsed != tt.wantTrial {
				t.Fatalf("trial_used = %v, want %v", got.TrialUsed, tt.wantTrial)
			}
		})
	}
}

func TestExtend(t *testing.T) {
	period := 30 * 24 * time.Hour
	future := now.Add(10 * 24 * time.Hour)
	past := now.Add(-time.Hour)

	t.Run("active unexpired stacks", func(t *testing.T) {
		c := &model.Client{SubscriptionStatus: model.SubscriptionActive, ExpiresAt: &future}
		if got := Extend(c, now, period); !got.Equal(future.Add(period)) {
			t.Fatalf("Extend() = %v, want %v", got, future.Add(period))
		}
	})
	t.Run("active but lapsed restarts", func(t *testing.T) {
		c := &model.Client{SubscriptionStatus: model.SubscriptionActive, ExpiresAt: &past}
		if got := Extend(c, now, period); !got.Equal(now.Add(period)) {
			t.Fatalf("Extend() = %v, want %v", got, now.Add(period))
		}
	})
	t.Run("trial restarts from now", func(t *testing.T) {
		c := &model.Client{SubscriptionStatus: model.SubscriptionTrial, ExpiresAt: &future}
		if got := Extend(c, now, period); !got.Equal(now.Add(period)) {
			t.Fatalf("Extend() = %v, want %v", got, now.Add(period))
		}
	})
	t.Run("expired restarts from now", func(t *testing.T) {
		c := &model.Client{SubscriptionStatus: model.SubscriptionExpired, ExpiresAt: &past}
		if got := Extend(c, now, period); !got.Equal(now.Add(period)) {
			t.Fatalf("Extend() = %v, want %v", got, now.Add(period))
		}
	})
}

func TestExpired(t *testing.T) {
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	if Expired(&model.Client{ExpiresAt: nil}, now) {
		t.Fatal("nil expiry must never lapse")
	}
	if Expired(&model.Client{ExpiresAt: &future}, now) {
		t.Fatal("future expiry must not lapse")
	}
	if !Expired(&model.Client{ExpiresAt: &past}, now) {
		t.Fatal("past expiry must lapse")
	}
	if !Expired(&model.Client{ExpiresAt: &now}, now) {
		t.Fatal("expiry exactly at now must lapse")
	}
}

func TestNeedsTeardown(t *testing.T) {
	if NeedsTeardown(&model.Client{SubscriptionStatus: model.SubscriptionActive}) {
		t.Fatal("active client keeps its peers")
	}
	if !NeedsTeardown(&model.Client{SubscriptionStatus: model.SubscriptionTrial}) {
		t.Fatal("trial client gets fresh provisioning")
	}
	if !NeedsTeardown(&model.Client{SubscriptionStatus: model.SubscriptionExpired}) {
		t.Fatal("expired client gets fresh provisioning")
	}
}

func durationPtr(d time.Duration) *time.Duration { return &d }
