package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"catalogsync/internal/config"
	"catalogsync/internal/database"
	"catalogsync/internal/ratelimit"
	"catalogsync/internal/registry"
	"catalogsync/internal/repository"
	"catalogsync/internal/scheduler"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// TasksFile lists tasks to enqueue. A task without tenant_key is fanned out
// to every destination tenant of the config.
type TasksFile struct {
	Tasks []scheduler.NewTask `yaml:"tasks"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config.yaml")
		tasksPath  = flag.String("tasks", "configs/tasks.yaml", "path to tasks.yaml")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	data, err := os.ReadFile(*tasksPath)
	if err != nil {
		return fmt.Errorf("read tasks: %w", err)
	}
	var file TasksFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse tasks: %w", err)
	}
	if len(file.Tasks) == 0 {
		return fmt.Errorf("no tasks in yaml")
	}

	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	tenants := make([]string, 0, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		tenants = append(tenants, t.Key)
	}

	// budgets are irrelevant here; the workers check them at admission
	coordinator := ratelimit.NewCoordinator(repository.NewMemoryCache(), reg, time.Minute, &logger)
	sched := scheduler.New(db, coordinator, reg, nil, scheduler.Options{
		SourceTenant: cfg.Source.Key,
		Tenants:      tenants,
		MaxAttempts:  cfg.Sync.MaxAttempts,
	}, &logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created := 0
	for _, req := range file.Tasks {
		targets := []string{req.TenantKey}
		if req.TenantKey == "" {
			targets = tenants
		}
		for _, tenant := range targets {
			req.TenantKey = tenant
			if _, err = sched.Enqueue(ctx, req); err != nil {
				return fmt.Errorf("enqueue %s/%s for %s: %w", req.EntityType, req.EntityID, tenant, err)
			}
			created++
		}
	}

	fmt.Printf("done: enqueued=%d\n", created)
	return nil
}
