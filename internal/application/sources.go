package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"db-resilience/internal/database"
	appErrors "db-resilience/internal/errors"
	"db-resilience/internal/migration"
	"db-resilience/internal/provider"
	"db-resilience/internal/schema"
)

// connIntrospector resolves its connection on every call so that commands
// which never touch the database never open one
type connIntrospector struct {
	conns   *database.ConnectionManager
	name    string
	timeout time.Duration
}

func (c *connIntrospector) Database() string {
	cfg, ok := c.conns.Config(c.name)
	if !ok {
		return c.name
	}
	return cfg.Namespace()
}

func (c *connIntrospector) Introspect(ctx context.Context) (*schema.Structure, error) {
	cfg, ok := c.conns.Config(c.name)
	if !ok {
		return nil, appErrors.NewNotFoundError("connection", c.name)
	}
	db, err := c.conns.Get(ctx, c.name)
	if err != nil {
		return nil, err
	}
	introspector, err := schema.NewIntrospector(cfg.Driver, db, cfg.Namespace(), c.timeout)
	if err != nil {
		return nil, appErrors.NewConfigError(fmt.Sprintf("cannot introspect %s", c.name), err)
	}
	return introspector.Introspect(ctx)
}

// targetIntrospector opens an introspector on a drill target
func (app *Application) targetIntrospector(ctx context.Context, targetRef string) (schema.Introspector, error) {
	if _, ok := app.Connections.Config(targetRef); !ok {
		return nil, appErrors.NewNotFoundError("drill target", targetRef)
	}
	return &connIntrospector{conns: app.Connections, name: targetRef, timeout: app.Config.Drift.QueryTimeout}, nil
}

// artifactSources dumps the primary's schema as a snapshot document and
// replays such documents onto drill targets
func (app *Application) artifactSources(primary *connIntrospector) provider.Sources {
	return provider.Sources{
		Dump: func(ctx context.Context) ([]byte, error) {
			structure, err := primary.Introspect(ctx)
			if err != nil {
				return nil, err
			}
			snapshot, err := schema.NewSnapshot(structure, 0, app.now())
			if err != nil {
				return nil, appErrors.NewAppError(appErrors.ErrorTypeSchema, "failed to build schema artifact", err)
			}
			return json.Marshal(snapshot)
		},
		Restore: app.replaySnapshot,
	}
}

func (app *Application) replaySnapshot(ctx context.Context, data []byte, targetRef string) error {
	if targetRef == PrimaryConnection || targetRef == StateConnection {
		return appErrors.NewConflictError(fmt.Sprintf("refusing to restore over the %s database", targetRef))
	}
	cfg, ok := app.Connections.Config(targetRef)
	if !ok {
		return appErrors.NewNotFoundError("drill target", targetRef)
	}

	snapshot, err := migration.DecodeSnapshot(data)
	if err != nil {
		return err
	}
	svc, err := migration.NewMigrationService(cfg.Driver, app.Logger)
	if err != nil {
		return err
	}
	db, err := app.Connections.Get(ctx, targetRef)
	if err != nil {
		return err
	}

	result, err := svc.Replay(ctx, db, snapshot, migration.ReplayOptions{DropExisting: true})
	if err != nil {
		return err
	}
	app.Logger.WithFields(map[string]interface{}{
		"target":     targetRef,
		"snapshot":   snapshot.ID,
		"statements": result.Applied,
		"duration":   result.Duration.String(),
	}).Info("Schema artifact replayed")
	return nil
}
