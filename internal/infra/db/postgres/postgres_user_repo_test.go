//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"prospect-engine/internal/domain/model"
)

func TestUserRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	repo := NewUserRepo(testPool)
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Microsecond)

	seed := func(t *testing.T) *model.User {
		t.Helper()
		cleanup(t)
		u, err := model.NewUser("user-1", model.PlanStarter, start)
		if err != nil {
			t.Fatalf("model.NewUser() failed: %v", err)
		}
		if err := repo.Save(ctx, nil, u); err != nil {
			t.Fatalf("Failed to save user: %v", err)
		}
		return u
	}

	t.Run("should save and read back quota state", func(t *testing.T) {
		seed(t)
		got, err := repo.FindByID(ctx, nil, "user-1")
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if got.PlanID != model.PlanStarter || got.QuotaUsed != 0 || !got.QuotaResetAt.Equal(start) {
			t.Errorf("unexpected user %+v", got)
		}
		if got.ActiveJobID != nil || got.CooldownUntil != nil {
			t.Error("fresh user must have no active job or cooldown")
		}
	})

	t.Run("claim is exclusive and release is conditional", func(t *testing.T) {
		seed(t)
		ok, err := repo.ClaimActiveJob(ctx, nil, "user-1", "job-a", start)
		if err != nil || !ok {
			t.Fatalf("first claim = %v, %v", ok, err)
		}
		ok, err = repo.ClaimActiveJob(ctx, nil, "user-1", "job-b", start)
		if err != nil || ok {
			t.Fatalf("second claim = %v, %v; want false", ok, err)
		}

		ok, err = repo.ReleaseActiveJob(ctx, nil, "user-1", "job-b")
		if err != nil || ok {
			t.Fatalf("release of foreign job = %v, %v; want false", ok, err)
		}
		ok, err = repo.ReleaseActiveJob(ctx, nil, "user-1", "job-a")
		if err != nil || !ok {
			t.Fatalf("release = %v, %v", ok, err)
		}
		ok, _ = repo.ReleaseActiveJob(ctx, nil, "user-1", "job-a")
		if ok {
			t.Error("second release must report false")
		}
	})

	t.Run("reset applies only against the observed timestamp", func(t *testing.T) {
		seed(t)
		if err := repo.AddQuotaUsed(ctx, nil, "user-1", 40); err != nil {
			t.Fatal(err)
		}
		later := start.Add(24 * time.Hour)

		ok, err := repo.ResetQuota(ctx, nil, "user-1", start, later)
		if err != nil || !ok {
			t.Fatalf("reset = %v, %v", ok, err)
		}
		ok, err = repo.ResetQuota(ctx, nil, "user-1", start, later.Add(time.Minute))
		if err != nil || ok {
			t.Fatalf("stale reset = %v, %v; want false", ok, err)
		}
		got, _ := repo.FindByID(ctx, nil, "user-1")
		if got.QuotaUsed != 0 || !got.QuotaResetAt.Equal(later) {
			t.Errorf("after reset: used=%d reset_at=%v", got.QuotaUsed, got.QuotaResetAt)
		}
	})

	t.Run("cooldown round trip", func(t *testing.T) {
		seed(t)
		until := start.Add(24 * time.Hour)
		if err := repo.SetCooldown(ctx, nil, "user-1", &until); err != nil {
			t.Fatal(err)
		}
		got, _ := repo.FindByID(ctx, nil, "user-1")
		if got.CooldownUntil == nil || !got.CooldownUntil.Equal(until) {
			t.Errorf("cooldown_until = %v", got.CooldownUntil)
		}
		if err := repo.SetCooldown(ctx, nil, "user-1", nil); err != nil {
			t.Fatal(err)
		}
		got, _ = repo.FindByID(ctx, nil, "user-1")
		if got.CooldownUntil != nil {
			t.Error("cooldown must be cleared")
		}
	})
}
