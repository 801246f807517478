package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"db-resilience/internal/errors"
)

// ConnectionManager owns named database handles: the protected primary and
// any restore targets used by drills.
type ConnectionManager struct {
	mu      sync.RWMutex
	service DatabaseService
	configs map[string]DatabaseConfig
	conns   map[string]*sql.DB
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(service DatabaseService) *ConnectionManager {
	return &ConnectionManager{
		service: service,
		configs: make(map[string]DatabaseConfig),
		conns:   make(map[string]*sql.DB),
	}
}

// Register records a named configuration without connecting
func (cm *ConnectionManager) Register(name string, config DatabaseConfig) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	config.SetDefaults()
	cm.configs[name] = config
}

// Attach stores an already-open handle under name
func (cm *ConnectionManager) Attach(name string, config DatabaseConfig, db *sql.DB) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	config.SetDefaults()
	cm.configs[name] = config
	cm.conns[name] = db
}

// Get returns the named handle, connecting lazily on first use
func (cm *ConnectionManager) Get(ctx context.Context, name string) (*sql.DB, error) {
	cm.mu.RLock()
	db, ok := cm.conns[name]
	config, known := cm.configs[name]
	cm.mu.RUnlock()

	if ok {
		return db, nil
	}
	if !known {
		return nil, errors.NewNotFoundError("connection", name)
	}

	db, err := cm.service.Connect(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", name, err)
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if existing, ok := cm.conns[name]; ok {
		cm.service.Close(db)
		return existing, nil
	}
	cm.conns[name] = db
	return db, nil
}

// Config returns the named configuration
func (cm *ConnectionManager) Config(name string) (DatabaseConfig, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	config, ok := cm.configs[name]
	return config, ok
}

// Ping checks that the named database answers
func (cm *ConnectionManager) Ping(ctx context.Context, name string) error {
	db, err := cm.Get(ctx, name)
	if err != nil {
		return err
	}
	return cm.service.TestConnection(ctx, db)
}

// Names lists registered connection names
func (cm *ConnectionManager) Names() []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	names := make([]string, 0, len(cm.configs))
	for name := range cm.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close gracefully closes all database connections
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var errs []error
	for name, db := range cm.conns {
		if err := cm.service.Close(db); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", name, err))
		}
		delete(cm.conns, name)
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}
	return nil
}
