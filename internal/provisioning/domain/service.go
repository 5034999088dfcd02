package domain

import "context"

// Capability performs the platform-specific provisioning calls.
//
// Each step reports ordinary upstream failures (HTTP error statuses,
// transport errors) through the outcome with Success=false. A non-nil
// error is reserved for orchestration-level failures and aborts the job.
type Capability interface {
	AcquireCredential(ctx context.Context) (Credential, error)
	IssueGuestInvite(ctx context.Context, cred Credential, user User) (InviteOutcome, error)
	CreateTeamWithChannel(ctx context.Context, cred Credential, user User, organization string) (TeamOutcome, error)
	CreateSiteAndList(ctx context.Context, cred Credential, teamID string, user User, organization string) (SiteOutcome, error)
}

// Publisher enqueues accepted requests for the orchestrator.
type Publisher interface {
	Publish(ctx context.Context, req ProvisioningRequest) error
}

// ResultStore persists finished results keyed by provisioning id.
type ResultStore interface {
	Save(ctx context.Context, result ProvisioningResult) error
	Get(ctx context.Context, provisioningID string) (*ProvisioningResult, error)
}

// Notifier delivers the callback for a finished result.
type Notifier interface {
	Notify(ctx context.Context, callbackURL string, payload CallbackPayload) error
}

// Processor runs one provisioning job.
type Processor interface {
	Process(ctx context.Context, req ProvisioningRequest) (*ProvisioningResult, error)
}
