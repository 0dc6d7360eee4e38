package port

import (
	"context"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
)

// DeploymentStatusChecker queries the gateway for a shop's deployment status.
type DeploymentStatusChecker interface {
	DeploymentStatus(ctx context.Context, token, shopID string) (*domain.StatusReport, error)
}

// Deployer asks the gateway to build and publish a shop's storefront.
type Deployer interface {
	DeploymentStatusChecker
	Deploy(ctx context.Context, token string, tenant domain.Tenant, template string) error
}

// DeploymentHistory persists terminal deployments.
type DeploymentHistory interface {
	RecordDeployment(ctx context.Context, rec domain.DeploymentRecord) error
}
