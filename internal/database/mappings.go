package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"catalogsync/internal/models"

	"github.com/mattn/go-sqlite3"
)

const mappingColumns = `id, source_tenant, destination_tenant, entity_type, source_entity_id,
              destination_entity_id, name, direction, created_at`

func scanMapping(row rowScanner) (*models.EntityMapping, error) {
	var m models.EntityMapping
	err := row.Scan(
		&m.ID, &m.SourceTenant, &m.DestinationTenant, &m.EntityType, &m.SourceEntityID,
		&m.DestinationEntityID, &m.Name, &m.Direction, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMapping returns the mapping for key or an error wrapping models.ErrNotFound.
func (db *DB) GetMapping(ctx context.Context, key models.MappingKey) (*models.EntityMapping, error) {
	row := db.QueryRowContext(ctx, `SELECT `+mappingColumns+` FROM entity_mappings
              WHERE source_tenant = ? AND destination_tenant = ? AND entity_type = ? AND source_entity_id = ?`,
		key.SourceTenant, key.DestinationTenant, key.EntityType, key.SourceEntityID)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mapping %s/%s: %w", key.EntityType, key.SourceEntityID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}
	return m, nil
}

// CreateMapping inserts a mapping. A second insert for the same key fails with
// models.ErrDuplicateMapping.
func (db *DB) CreateMapping(ctx context.Context, mapping *models.EntityMapping) error {
	now := utc(time.Now())
	if mapping.Direction == "" {
		mapping.Direction = models.DirectionSourceToDestination
	}

	result, err := db.ExecContext(ctx, `INSERT INTO entity_mappings (source_tenant, destination_tenant, entity_type,
                source_entity_id, destination_entity_id, name, direction, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		mapping.SourceTenant,
		mapping.DestinationTenant,
		mapping.EntityType,
		mapping.SourceEntityID,
		mapping.DestinationEntityID,
		mapping.Name,
		mapping.Direction,
		now,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("mapping %s/%s: %w", mapping.EntityType, mapping.SourceEntityID, models.ErrDuplicateMapping)
		}
		return fmt.Errorf("failed to create mapping: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	mapping.ID = id
	mapping.CreatedAt = now
	return nil
}

// FindMappingByName returns the oldest mapping with an exactly matching name.
func (db *DB) FindMappingByName(ctx context.Context, source, destination, entityType, name string) (*models.EntityMapping, error) {
	row := db.QueryRowContext(ctx, `SELECT `+mappingColumns+` FROM entity_mappings
              WHERE source_tenant = ? AND destination_tenant = ? AND entity_type = ? AND name = ?
              ORDER BY id ASC LIMIT 1`,
		source, destination, entityType, name)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mapping %s named %q: %w", entityType, name, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find mapping by name: %w", err)
	}
	return m, nil
}

// CountMappings returns the number of mappings for a tenant pair.
func (db *DB) CountMappings(ctx context.Context, source, destination string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entity_mappings WHERE source_tenant = ? AND destination_tenant = ?`,
		source, destination).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count mappings: %w", err)
	}
	return n, nil
}
