package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/db"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

// ConnectionSource resolves how to reach a tenant's remote platform.
type ConnectionSource interface {
	Connection(ctx context.Context, tenantID string) (models.TenantConnection, error)
	// Tenants lists the tenants with an enabled connection.
	Tenants(ctx context.Context) ([]string, error)
}

type DBConnectionSource struct {
	Db db.DB
}

func (s *DBConnectionSource) Connection(ctx context.Context, tenantID string) (models.TenantConnection, error) {
	var conn models.TenantConnection
	err := s.Db.Conn.WithContext(ctx).First(&conn, "tenant_id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return conn, fmt.Errorf("%w: %s", ErrNoConnection, tenantID)
	}
	if err != nil {
		return conn, err
	}
	if !conn.Enabled {
		return conn, fmt.Errorf("%w: %s", ErrConnectionDisabled, tenantID)
	}
	return conn, nil
}

func (s *DBConnectionSource) Tenants(ctx context.Context) ([]string, error) {
	var tenants []string
	err := s.Db.Conn.WithContext(ctx).
		Model(&models.TenantConnection{}).
		Where("enabled = ?", true).
		Order("tenant_id").
		Pluck("tenant_id", &tenants).Error
	return tenants, err
}

// Save creates or replaces the connection row of conn.TenantID.
func (s *DBConnectionSource) Save(ctx context.Context, conn models.TenantConnection) error {
	logger := common.GetLoggerWith(common.LoggerNameGateway, zap.String(common.LoggerFieldTenant, conn.TenantID))

	err := s.Db.Conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"base_url", "username", "password", "enabled", "updated_at"}),
	}).Create(&conn).Error

	if err == nil {
		logger.Info("Saved tenant connection", zap.String("base_url", conn.BaseURL), zap.Bool("enabled", conn.Enabled))
	}
	return err
}

// StaticConnectionSource serves connections from memory, for tests and for
// single-tenant deployments configured without a database row.
type StaticConnectionSource map[string]models.TenantConnection

func (s StaticConnectionSource) Connection(_ context.Context, tenantID string) (models.TenantConnection, error) {
	conn, ok := s[tenantID]
	if !ok {
		return conn, fmt.Errorf("%w: %s", ErrNoConnection, tenantID)
	}
	if !conn.Enabled {
		return conn, fmt.Errorf("%w: %s", ErrConnectionDisabled, tenantID)
	}
	return conn, nil
}

func (s StaticConnectionSource) Tenants(_ context.Context) ([]string, error) {
	tenants := make([]string, 0, len(s))
	for id, conn := range s {
		if conn.Enabled {
			tenants = append(tenants, id)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}
