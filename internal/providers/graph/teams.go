package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/smallbiznis/provisioning/internal/config"
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"go.uber.org/zap"
)

const standardTeamTemplate = "https://graph.microsoft.com/v1.0/teamsTemplates('standard')"

var ErrMissingTeamLocation = errors.New("failed to extract team id from response")

type conversationMember struct {
	ODataType string   `json:"@odata.type"`
	Roles     []string `json:"roles"`
	UserBind  string   `json:"user@odata.bind"`
}

type teamRequest struct {
	TemplateBind string               `json:"template@odata.bind"`
	DisplayName  string               `json:"displayName"`
	Description  string               `json:"description"`
	Members      []conversationMember `json:"members"`
}

type channelRequest struct {
	DisplayName    string               `json:"displayName"`
	Description    string               `json:"description"`
	MembershipType string               `json:"membershipType"`
	Members        []conversationMember `json:"members"`
}

type channelResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

func ownerMember(email string) []conversationMember {
	return []conversationMember{{
		ODataType: "#microsoft.graph.aadUserConversationMember",
		Roles:     []string{"owner"},
		UserBind:  userBinding(email),
	}}
}

// CreateTeamWithChannel creates the user's team, waits for it to settle and
// adds a private channel owned by the user. Team creation is asynchronous on
// the Graph side; the id comes from the Content-Location header.
func (c *Capability) CreateTeamWithChannel(ctx context.Context, cred domain.Credential, user domain.User, organization string) (domain.TeamOutcome, error) {
	tmpl := c.templates.Get()
	teamName := config.Render(tmpl.TeamName, user.DisplayName, user.Email, organization)

	header, err := c.send(ctx, cred, http.MethodPost, "/teams", teamRequest{
		TemplateBind: standardTeamTemplate,
		DisplayName:  teamName,
		Description:  config.Render(tmpl.TeamDescription, user.DisplayName, user.Email, organization),
		Members:      ownerMember(user.Email),
	}, nil)
	if err != nil {
		c.log.Warn("teams creation failed", zap.Error(err))
		return domain.TeamOutcome{StepStatus: domain.Failure(err)}, nil
	}

	teamID := TeamIDFromLocation(header.Get("Content-Location"))
	if teamID == "" {
		return domain.TeamOutcome{}, ErrMissingTeamLocation
	}
	c.log.Info("team created", zap.String("team_id", teamID))

	if err := c.waiter.Wait(ctx, c.cfg.TeamSettleDelay); err != nil {
		return domain.TeamOutcome{}, fmt.Errorf("wait for team %s: %w", teamID, err)
	}

	var channel channelResponse
	_, err = c.send(ctx, cred, http.MethodPost, "/teams/"+teamID+"/channels", channelRequest{
		DisplayName:    config.Render(tmpl.ChannelName, user.DisplayName, user.Email, organization),
		Description:    config.Render(tmpl.ChannelDescription, user.DisplayName, user.Email, organization),
		MembershipType: "private",
		Members:        ownerMember(user.Email),
	}, &channel)
	if err != nil {
		// the team is left in place but not reported; the site step then has no team id
		c.log.Warn("private channel creation failed", zap.String("team_id", teamID), zap.Error(err))
		return domain.TeamOutcome{StepStatus: domain.Failure(err)}, nil
	}
	c.log.Info("private channel created", zap.String("team_id", teamID), zap.String("channel_id", channel.ID))

	return domain.TeamOutcome{
		StepStatus:  domain.StepStatus{Success: true},
		TeamID:      teamID,
		TeamName:    teamName,
		ChannelID:   channel.ID,
		ChannelName: channel.DisplayName,
		WebURL:      "https://teams.microsoft.com/l/team/" + teamID,
	}, nil
}

// TeamIDFromLocation extracts the id from a "/teams('<id>')/..." location.
func TeamIDFromLocation(location string) string {
	parts := strings.Split(location, "'")
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
