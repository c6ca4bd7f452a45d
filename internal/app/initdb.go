package app

import (
	"context"

	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/repository"
	"go.uber.org/zap"
)

const defaultInstanceName = "default"

// checkDefaultInstance seeds one disconnected instance on an empty database
// so a fresh install can pair without any setup call.
func (a *Application) checkDefaultInstance() {
	ctx := context.Background()
	repo := repository.NewGormInstanceRepository(a.gormDB)
	instances, err := repo.List(ctx)
	if err != nil {
		zap.L().Error("failed to query instances", zap.Error(err))
		return
	}
	if len(instances) > 0 {
		return
	}
	if err := repo.Create(ctx, &domain.Instance{
		Name:     defaultInstanceName,
		Provider: domain.ProviderNativeFlow,
		Status:   domain.InstanceDisconnected,
	}); err != nil {
		zap.L().Error("failed to create default instance", zap.Error(err))
		return
	}
	zap.L().Info("initialized default instance", zap.String("name", defaultInstanceName))
}
