//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"prospect-engine/internal/domain"
	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/domain/ports/adapter"
)

func TestLeadRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewLeadRepo(testPool)
	jobs := NewJobRepo(testPool, NewTxManager(testPool))
	users := NewUserRepo(testPool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	cleanup(t)
	u, _ := model.NewUser("user-1", model.PlanStarter, now)
	_ = users.Save(ctx, nil, u)
	job := model.NewJob("user-1", json.RawMessage(`{}`), 2, 1, now)
	if err := jobs.Create(ctx, nil, job); err != nil {
		t.Fatal(err)
	}

	t.Run("upsert overwrites enrichment fields", func(t *testing.T) {
		lead := model.NewHarvestedLead("lead-1", "user-1", job.ID, now)
		lead.CompanyName = "Acme"
		if err := repo.Upsert(ctx, nil, lead); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		got, err := repo.FindByID(ctx, nil, "lead-1")
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if got.Status != model.LeadStatusHarvested || got.PainPoints != nil || got.EnrichmentPayload != nil {
			t.Errorf("fresh lead = %+v", got)
		}

		got.Status = model.LeadStatusEnriched
		got.ProcessingStage = model.StageCompleted
		got.RelevanceScore = 0.8
		got.PainPoints = []string{"churn", "onboarding"}
		got.EnrichmentPayload = json.RawMessage(`{"relevance_score":0.8}`)
		if err := repo.Upsert(ctx, nil, got); err != nil {
			t.Fatal(err)
		}
		again, _ := repo.FindByID(ctx, nil, "lead-1")
		if again.Status != model.LeadStatusEnriched || again.RelevanceScore != 0.8 || len(again.PainPoints) != 2 {
			t.Errorf("enriched lead = %+v", again)
		}
		if again.CompanyName != "Acme" {
			t.Errorf("company = %q", again.CompanyName)
		}
	})

	t.Run("count by job", func(t *testing.T) {
		_ = repo.Upsert(ctx, nil, model.NewHarvestedLead("lead-2", "user-1", job.ID, now))
		n, err := repo.CountByJob(ctx, nil, job.ID)
		if err != nil || n != 2 {
			t.Errorf("CountByJob = %d, %v; want 2", n, err)
		}
	})

	t.Run("missing lead", func(t *testing.T) {
		if _, err := repo.FindByID(ctx, nil, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("business context readiness", func(t *testing.T) {
		store := NewBusinessContextRepo(testPool, "industry", "region")
		if _, err := store.Get(ctx, "user-1"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
		err := store.Save(ctx, &adapter.BusinessContext{UserID: "user-1", Data: json.RawMessage(`{"industry":"saas"}`)})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		bc, err := store.Get(ctx, "user-1")
		if err != nil {
			t.Fatal(err)
		}
		if bc.Ready() || len(bc.Missing) != 1 || bc.Missing[0] != "region" {
			t.Errorf("context = %+v", bc)
		}
	})
}
