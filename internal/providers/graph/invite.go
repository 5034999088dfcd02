package graph

import (
	"context"
	"net/http"

	"github.com/smallbiznis/provisioning/internal/config"
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"go.uber.org/zap"
)

type invitationRequest struct {
	InvitedUserEmailAddress string                `json:"invitedUserEmailAddress"`
	InvitedUserDisplayName  string                `json:"invitedUserDisplayName"`
	InviteRedirectURL       string                `json:"inviteRedirectUrl"`
	SendInvitationMessage   bool                  `json:"sendInvitationMessage"`
	InvitedUserMessageInfo  invitedUserMessageInfo `json:"invitedUserMessageInfo"`
}

type invitedUserMessageInfo struct {
	CustomizedMessageBody string `json:"customizedMessageBody"`
}

type invitationResponse struct {
	ID                      string `json:"id"`
	InviteRedeemURL         string `json:"inviteRedeemUrl"`
	InvitedUserEmailAddress string `json:"invitedUserEmailAddress"`
	Status                  string `json:"status"`
}

// IssueGuestInvite invites the user into the tenant as a guest.
func (c *Capability) IssueGuestInvite(ctx context.Context, cred domain.Credential, user domain.User) (domain.InviteOutcome, error) {
	tmpl := c.templates.Get()
	payload := invitationRequest{
		InvitedUserEmailAddress: user.Email,
		InvitedUserDisplayName:  user.DisplayName,
		InviteRedirectURL:       c.cfg.InviteRedirectURL,
		SendInvitationMessage:   true,
		InvitedUserMessageInfo: invitedUserMessageInfo{
			CustomizedMessageBody: config.Render(tmpl.InviteMessage, user.DisplayName, user.Email, ""),
		},
	}

	var resp invitationResponse
	if _, err := c.send(ctx, cred, http.MethodPost, "/invitations", payload, &resp); err != nil {
		c.log.Warn("entra invite failed", zap.Error(err))
		return domain.InviteOutcome{StepStatus: domain.Failure(err)}, nil
	}

	c.log.Info("guest invite sent", zap.String("invite_id", resp.ID))
	return domain.InviteOutcome{
		StepStatus:              domain.StepStatus{Success: true},
		InviteID:                resp.ID,
		InviteRedeemURL:         resp.InviteRedeemURL,
		InvitedUserEmailAddress: resp.InvitedUserEmailAddress,
		Status:                  resp.Status,
	}, nil
}
