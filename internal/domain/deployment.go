package domain

import "time"

// DeploymentStatus is the lifecycle state of a storefront deployment.
type DeploymentStatus string

const (
	DeploymentDeploying DeploymentStatus = "deploying"
	DeploymentDeployed  DeploymentStatus = "deployed"
	DeploymentFailed    DeploymentStatus = "failed"
	DeploymentTimedOut  DeploymentStatus = "timed_out"
)

// Terminal reports whether no further transition can happen from s.
func (s DeploymentStatus) Terminal() bool {
	return s == DeploymentDeployed || s == DeploymentFailed || s == DeploymentTimedOut
}

// Tenant identifies the shop a deployment belongs to.
type Tenant struct {
	ShopID    string `json:"shop_id"`
	Subdomain string `json:"subdomain"`
}

// DeploymentRecord tracks one storefront deployment. OwnerID is the subject that
// started it; only that subject can see or control the record.
type DeploymentRecord struct {
	OwnerID     string           `json:"-"`
	ShopID      string           `json:"shop_id"`
	Subdomain   string           `json:"subdomain"`
	Status      DeploymentStatus `json:"status"`
	Message     string           `json:"message,omitempty"`
	URL         string           `json:"url,omitempty"`
	Attempts    int              `json:"attempts"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// DeploymentSnapshot is the state published to subscribers after every change.
type DeploymentSnapshot struct {
	IsDeploying bool               `json:"is_deploying"`
	Deployments []DeploymentRecord `json:"deployments"`
}

// StatusReport is one answer from the deployment status endpoint.
type StatusReport struct {
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message,omitempty"`
}

// DeploymentEvent is a terminal deployment persisted for the publish history view.
type DeploymentEvent struct {
	ID          string           `json:"id"           db:"id"`
	OwnerID     string           `json:"-"            db:"owner_id"`
	ShopID      string           `json:"shop_id"      db:"shop_id"`
	Subdomain   string           `json:"subdomain"    db:"subdomain"`
	Status      DeploymentStatus `json:"status"       db:"status"`
	Message     string           `json:"message"      db:"message"`
	URL         string           `json:"url"          db:"url"`
	Attempts    int              `json:"attempts"     db:"attempts"`
	StartedAt   time.Time        `json:"started_at"   db:"started_at"`
	CompletedAt *time.Time       `json:"completed_at" db:"completed_at"`
}
