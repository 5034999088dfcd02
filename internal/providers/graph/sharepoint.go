package graph

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/smallbiznis/provisioning/internal/config"
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"go.uber.org/zap"
)

type siteResponse struct {
	ID     string `json:"id"`
	WebURL string `json:"webUrl"`
}

type listRequest struct {
	DisplayName string           `json:"displayName"`
	Columns     []map[string]any `json:"columns"`
	List        listInfo         `json:"list"`
}

type listInfo struct {
	Template string `json:"template"`
}

type listResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	WebURL      string `json:"webUrl"`
}

// CreateSiteAndList finds the SharePoint site that backs the team's group
// and adds the member resources list to it. An empty teamID is an error
// rather than a step failure.
func (c *Capability) CreateSiteAndList(ctx context.Context, cred domain.Credential, teamID string, user domain.User, organization string) (domain.SiteOutcome, error) {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return domain.SiteOutcome{}, domain.ErrMissingTeamID
	}

	var site siteResponse
	if _, err := c.send(ctx, cred, http.MethodGet, "/groups/"+url.PathEscape(teamID)+"/sites/root", nil, &site); err != nil {
		c.log.Warn("sharepoint site lookup failed", zap.String("team_id", teamID), zap.Error(err))
		return domain.SiteOutcome{StepStatus: domain.Failure(err)}, nil
	}
	c.log.Info("sharepoint site found", zap.String("site_url", site.WebURL))

	tmpl := c.templates.Get()
	var list listResponse
	_, err := c.send(ctx, cred, http.MethodPost, "/sites/"+site.ID+"/lists", listRequest{
		DisplayName: config.Render(tmpl.ListName, user.DisplayName, user.Email, organization),
		Columns:     listColumns(tmpl.ListColumns),
		List:        listInfo{Template: "genericList"},
	}, &list)
	if err != nil {
		c.log.Warn("sharepoint list creation failed", zap.String("site_id", site.ID), zap.Error(err))
		return domain.SiteOutcome{
			StepStatus: domain.Failure(err),
			SiteID:     site.ID,
			SiteURL:    site.WebURL,
		}, nil
	}
	c.log.Info("sharepoint list created", zap.String("list_id", list.ID))

	return domain.SiteOutcome{
		StepStatus: domain.StepStatus{Success: true},
		SiteID:     site.ID,
		SiteURL:    site.WebURL,
		ListID:     list.ID,
		ListName:   list.DisplayName,
		ListWebURL: list.WebURL,
	}, nil
}

func listColumns(columns []config.ListColumn) []map[string]any {
	out := make([]map[string]any, 0, len(columns))
	for _, col := range columns {
		entry := map[string]any{"name": col.Name}
		switch col.Type {
		case config.ListColumnChoice:
			entry["choice"] = map[string]any{"choices": col.Choices}
		default:
			text := map[string]any{}
			if col.Multiline {
				text["allowMultipleLines"] = true
			}
			entry["text"] = text
		}
		out = append(out, entry)
	}
	return out
}
