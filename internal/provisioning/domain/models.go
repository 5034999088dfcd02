package domain

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is expected.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	StepEntraInvite = "entraInvite"
	StepTeams       = "teams"
	StepSharePoint  = "sharepoint"
)

const CompletedMessage = "All resources provisioned successfully"

type User struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
}

// ProvisioningFlags are always true today and are not evaluated by the orchestrator.
type ProvisioningFlags struct {
	EntraInvite    bool `json:"entraInvite"`
	TeamsChannel   bool `json:"teamsChannel"`
	SharePointSite bool `json:"sharepointSite"`
	SharePointList bool `json:"sharepointList"`
}

func AllFlags() ProvisioningFlags {
	return ProvisioningFlags{EntraInvite: true, TeamsChannel: true, SharePointSite: true, SharePointList: true}
}

// ProvisioningRequest is the queued job. It is created once at ingest and never mutated.
type ProvisioningRequest struct {
	ProvisioningID    string            `json:"provisioningId"`
	PurchaseID        string            `json:"purchaseId"`
	Timestamp         time.Time         `json:"timestamp"`
	User              User              `json:"user"`
	Organization      string            `json:"organization"`
	ProductSKU        string            `json:"productSku"`
	ProvisioningFlags ProvisioningFlags `json:"provisioningFlags"`
	Status            Status            `json:"status"`
	CallbackURL       string            `json:"callbackUrl"`
}

// StepStatus is the common part of every step outcome.
type StepStatus struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s StepStatus) Succeeded() bool { return s.Success }

func Failure(err error) StepStatus {
	if err == nil {
		return StepStatus{}
	}
	return StepStatus{Error: err.Error()}
}

type InviteOutcome struct {
	StepStatus
	InviteID                string `json:"inviteId,omitempty"`
	InviteRedeemURL         string `json:"inviteRedeemUrl,omitempty"`
	InvitedUserEmailAddress string `json:"invitedUserEmailAddress,omitempty"`
	Status                  string `json:"status,omitempty"`
}

type TeamOutcome struct {
	StepStatus
	TeamID      string `json:"teamId,omitempty"`
	TeamName    string `json:"teamName,omitempty"`
	ChannelID   string `json:"channelId,omitempty"`
	ChannelName string `json:"channelName,omitempty"`
	WebURL      string `json:"webUrl,omitempty"`
}

type SiteOutcome struct {
	StepStatus
	SiteID     string `json:"siteId,omitempty"`
	SiteURL    string `json:"siteUrl,omitempty"`
	ListID     string `json:"listId,omitempty"`
	ListName   string `json:"listName,omitempty"`
	ListWebURL string `json:"listWebUrl,omitempty"`
}

// StepResults holds one entry per step that produced an outcome.
// A step that never ran (the loop aborted first) is nil.
type StepResults struct {
	EntraInvite *InviteOutcome `json:"entraInvite,omitempty"`
	Teams       *TeamOutcome   `json:"teams,omitempty"`
	SharePoint  *SiteOutcome   `json:"sharepoint,omitempty"`
}

type ProvisioningResult struct {
	ProvisioningID string      `json:"provisioningId"`
	PurchaseID     string      `json:"purchaseId"`
	Timestamp      time.Time   `json:"timestamp"`
	Status         Status      `json:"status"`
	Message        string      `json:"message,omitempty"`
	Error          string      `json:"error,omitempty"`
	StepResults    StepResults `json:"stepResults"`
}

// Credential is the bearer token used for one job.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

// CallbackPayload is posted to the caller-supplied callback URL.
type CallbackPayload struct {
	ProvisioningID string            `json:"provisioningId"`
	PurchaseID     string            `json:"purchaseId"`
	Status         Status            `json:"status"`
	Timestamp      time.Time         `json:"timestamp"`
	Resources      CallbackResources `json:"resources"`
	Error          string            `json:"error,omitempty"`
}

type CallbackResources struct {
	EntraInvite       *InviteOutcome `json:"entraInvite"`
	TeamsURL          string         `json:"teamsUrl"`
	SharePointURL     string         `json:"sharepointUrl"`
	SharePointListURL string         `json:"sharepointListUrl"`
}

// MarshalJSON always writes every key: a step that never ran is {} for the
// invite and null for the URLs.
func (r CallbackResources) MarshalJSON() ([]byte, error) {
	var invite any = struct{}{}
	if r.EntraInvite != nil {
		invite = r.EntraInvite
	}
	return json.Marshal(struct {
		EntraInvite       any     `json:"entraInvite"`
		TeamsURL          *string `json:"teamsUrl"`
		SharePointURL     *string `json:"sharepointUrl"`
		SharePointListURL *string `json:"sharepointListUrl"`
	}{
		EntraInvite:       invite,
		TeamsURL:          nullIfEmpty(r.TeamsURL),
		SharePointURL:     nullIfEmpty(r.SharePointURL),
		SharePointListURL: nullIfEmpty(r.SharePointListURL),
	})
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NewCallbackPayload projects a finished result onto the callback body.
func NewCallbackPayload(result ProvisioningResult) CallbackPayload {
	payload := CallbackPayload{
		ProvisioningID: result.ProvisioningID,
		PurchaseID:     result.PurchaseID,
		Status:         result.Status,
		Timestamp:      result.Timestamp,
		Resources: CallbackResources{
			EntraInvite: result.StepResults.EntraInvite,
		},
	}
	if teams := result.StepResults.Teams; teams != nil {
		payload.Resources.TeamsURL = teams.WebURL
	}
	if site := result.StepResults.SharePoint; site != nil {
		payload.Resources.SharePointURL = site.SiteURL
		payload.Resources.SharePointListURL = site.ListWebURL
	}
	if result.Status == StatusFailed {
		payload.Error = result.Error
	}
	return payload
}
