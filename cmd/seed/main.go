package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"prospect-engine/internal/config"
	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/domain/ports/adapter"
	"prospect-engine/internal/infra/api"
	pg "prospect-engine/internal/infra/db/postgres"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	userID := flag.String("user", "dev-user", "user id to create or update")
	plan := flag.String("plan", string(model.PlanStarter), "plan id: free|starter|pro|enterprise")
	brief := flag.String("context", `{"industry":"saas","region":"eu","offer":"lead generation"}`, "business context JSON")
	ttl := flag.Duration("ttl", 24*time.Hour, "lifetime of the printed token")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if !json.Valid([]byte(*brief)) {
		log.Fatalf("context is not valid JSON")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	users := pg.NewUserRepo(pool)
	u, err := users.FindByID(ctx, nil, *userID)
	if err != nil {
		u, err = model.NewUser(*userID, model.PlanID(*plan), time.Now())
		if err != nil {
			log.Fatalf("new user: %v", err)
		}
	} else {
		if _, err := model.LookupPlan(model.PlanID(*plan)); err != nil {
			log.Fatalf("plan: %v", err)
		}
		u.PlanID = model.PlanID(*plan)
	}
	if err := users.Save(ctx, nil, u); err != nil {
		log.Fatalf("save user: %v", err)
	}

	contexts := pg.NewBusinessContextRepo(pool, cfg.Admission.RequiredContext...)
	if err := contexts.Save(ctx, &adapter.BusinessContext{UserID: u.ID, Data: json.RawMessage(*brief)}); err != nil {
		log.Fatalf("save context: %v", err)
	}
	bc, err := contexts.Get(ctx, u.ID)
	if err != nil {
		log.Fatalf("read context: %v", err)
	}

	token, err := api.NewAuthManager(cfg.Auth.JWTSecret).Mint(u.ID, *ttl)
	if err != nil {
		log.Fatalf("mint token: %v", err)
	}

	fmt.Printf("seeded user %s on plan %s (context ready=%t", u.ID, u.PlanID, bc.Ready())
	if len(bc.Missing) > 0 {
		fmt.Printf(", missing=%v", bc.Missing)
	}
	fmt.Println(")")
	fmt.Printf("token: %s\n", token)
}
