// Package stub provides a programmable Capability for tests and local runs.
package stub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
)

// Call records one invocation of a capability operation.
type Call struct {
	Operation    string
	User         domain.User
	Organization string
	TeamID       string
}

const (
	OpAcquireCredential = "AcquireCredential"
	OpGuestInvite       = "IssueGuestInvite"
	OpTeamWithChannel   = "CreateTeamWithChannel"
	OpSiteAndList       = "CreateSiteAndList"
)

// Capability returns canned outcomes. The zero value is not usable; call New.
type Capability struct {
	mu sync.Mutex

	CredentialErr error

	Invite    domain.InviteOutcome
	InviteErr error
	Team      domain.TeamOutcome
	TeamErr   error
	Site      domain.SiteOutcome
	SiteErr   error

	// PanicOn makes the named operation panic with its value.
	PanicOn string

	calls []Call
}

// New returns a stub whose every step succeeds with plausible identifiers.
func New() *Capability {
	return &Capability{
		Invite: domain.InviteOutcome{
			StepStatus:      domain.StepStatus{Success: true},
			InviteID:        "stub-invite",
			InviteRedeemURL: "https://login.microsoftonline.com/redeem?stub",
			Status:          "PendingAcceptance",
		},
		Team: domain.TeamOutcome{
			StepStatus:  domain.StepStatus{Success: true},
			TeamID:      "stub-team",
			ChannelID:   "stub-channel",
			ChannelName: "Private Workspace",
			WebURL:      "https://teams.microsoft.com/l/team/stub-team",
		},
		Site: domain.SiteOutcome{
			StepStatus: domain.StepStatus{Success: true},
			SiteID:     "stub-site",
			SiteURL:    "https://stub.sharepoint.com/sites/stub-team",
			ListID:     "stub-list",
			ListName:   "Member Resources",
			ListWebURL: "https://stub.sharepoint.com/sites/stub-team/Lists/Member%20Resources",
		},
	}
}

func (c *Capability) AcquireCredential(ctx context.Context) (domain.Credential, error) {
	c.record(Call{Operation: OpAcquireCredential})
	if c.CredentialErr != nil {
		return domain.Credential{}, c.CredentialErr
	}
	return domain.Credential{AccessToken: "stub-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (c *Capability) IssueGuestInvite(ctx context.Context, cred domain.Credential, user domain.User) (domain.InviteOutcome, error) {
	c.record(Call{Operation: OpGuestInvite, User: user})
	out := c.Invite
	if out.Success && out.InvitedUserEmailAddress == "" {
		out.InvitedUserEmailAddress = user.Email
	}
	return out, c.InviteErr
}

func (c *Capability) CreateTeamWithChannel(ctx context.Context, cred domain.Credential, user domain.User, organization string) (domain.TeamOutcome, error) {
	c.record(Call{Operation: OpTeamWithChannel, User: user, Organization: organization})
	out := c.Team
	if out.Success && out.TeamName == "" {
		out.TeamName = fmt.Sprintf("%s - %s", organization, user.DisplayName)
	}
	return out, c.TeamErr
}

func (c *Capability) CreateSiteAndList(ctx context.Context, cred domain.Credential, teamID string, user domain.User, organization string) (domain.SiteOutcome, error) {
	c.record(Call{Operation: OpSiteAndList, User: user, Organization: organization, TeamID: teamID})
	return c.Site, c.SiteErr
}

// Calls returns a copy of the recorded invocations in order.
func (c *Capability) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// Count returns how many times operation was invoked.
func (c *Capability) Count(operation string) int {
	n := 0
	for _, call := range c.Calls() {
		if call.Operation == operation {
			n++
		}
	}
	return n
}

func (c *Capability) record(call Call) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	panicOn := c.PanicOn
	c.mu.Unlock()
	if panicOn == call.Operation {
		panic(fmt.Sprintf("stub: %s panicked", call.Operation))
	}
}

var _ domain.Capability = (*Capability)(nil)
