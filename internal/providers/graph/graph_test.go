package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/provisioning/internal/config"
	"github.com/smallbiznis/provisioning/internal/provisioning/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingWaiter struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (w *recordingWaiter) Wait(_ context.Context, d time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waits = append(w.waits, d)
	return nil
}

type fakeGraph struct {
	t        *testing.T
	mux      *http.ServeMux
	server   *httptest.Server
	mu       sync.Mutex
	requests map[string]map[string]any
}

func newFakeGraph(t *testing.T) *fakeGraph {
	g := &fakeGraph{t: t, mux: http.NewServeMux(), requests: map[string]map[string]any{}}
	g.server = httptest.NewServer(g.mux)
	t.Cleanup(g.server.Close)
	return g
}

// handle registers pattern and records the decoded JSON body of each call.
func (g *fakeGraph) handle(pattern string, fn func(w http.ResponseWriter, r *http.Request)) {
	g.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") == "application/json" {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			g.mu.Lock()
			g.requests[pattern] = body
			g.mu.Unlock()
		}
		fn(w, r)
	})
}

func (g *fakeGraph) body(pattern string) map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[pattern]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newCapability(t *testing.T, g *fakeGraph, waiter Waiter) *Capability {
	t.Helper()
	c, err := New(Config{
		TenantID:          "tenant-1",
		ClientID:          "client-1",
		ClientSecret:      "secret-1",
		AuthorityHost:     g.server.URL,
		BaseURL:           g.server.URL + "/v1.0",
		InviteRedirectURL: DefaultInviteRedirectURL,
		TeamSettleDelay:   5 * time.Second,
	}, zap.NewNop(), WithHTTPClient(g.server.Client()), WithWaiter(waiter))
	require.NoError(t, err)
	return c
}

var (
	testCred = domain.Credential{AccessToken: "tok"}
	testUser = domain.User{Email: "a@b.com", DisplayName: "A B"}
)

func TestAcquireCredential(t *testing.T) {
	g := newFakeGraph(t)
	g.handle("POST /tenant-1/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret-1", r.PostForm.Get("client_secret"))
		assert.Equal(t, DefaultScope, r.PostForm.Get("scope"))
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "tok-123", "token_type": "Bearer", "expires_in": 3599})
	})

	cred, err := newCapability(t, g, NoWait{}).AcquireCredential(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "tok-123", cred.AccessToken)
	assert.True(t, cred.ExpiresAt.After(time.Now()))
}

func TestAcquireCredentialRejected(t *testing.T) {
	g := newFakeGraph(t)
	g.handle("POST /tenant-1/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client", "error_description": "AADSTS7000215: Invalid client secret provided."})
	})

	_, err := newCapability(t, g, NoWait{}).AcquireCredential(context.Background())

	require.ErrorIs(t, err, ErrTokenRejected)
	assert.Contains(t, err.Error(), "AADSTS7000215")
}

func TestAcquireCredentialMissingAccessToken(t *testing.T) {
	g := newFakeGraph(t)
	g.handle("POST /tenant-1/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"token_type": "Bearer"})
	})

	_, err := newCapability(t, g, NoWait{}).AcquireCredential(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_token")
}

func TestIssueGuestInvite(t *testing.T) {
	g := newFakeGraph(t)
	g.handle("POST /v1.0/invitations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":                      "inv-1",
			"inviteRedeemUrl":         "https://login.microsoftonline.com/redeem?x",
			"invitedUserEmailAddress": "a@b.com",
			"status":                  "PendingAcceptance",
		})
	})

	out, err := newCapability(t, g, NoWait{}).IssueGuestInvite(context.Background(), testCred, testUser)

	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "inv-1", out.InviteID)
	assert.Equal(t, "PendingAcceptance", out.Status)

	body := g.body("POST /v1.0/invitations")
	assert.Equal(t, "a@b.com", body["invitedUserEmailAddress"])
	assert.Equal(t, "https://myapps.microsoft.com", body["inviteRedirectUrl"])
	assert.Equal(t, true, body["sendInvitationMessage"])
	info := body["invitedUserMessageInfo"].(map[string]any)
	assert.Equal(t, "Welcome A B! You've been invited to access our platform.", info["customizedMessageBody"])
}

func TestIssueGuestInviteHTTPErrorIsStepFailure(t *testing.T) {
	g := newFakeGraph(t)
	g.handle("POST /v1.0/invitations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": map[string]any{"code": "Authorization_RequestDenied", "message": "Insufficient privileges"}})
	})

	out, err := newCapability(t, g, NoWait{}).IssueGuestInvite(context.Background(), testCred, testUser)

	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "403")
	assert.Contains(t, out.Error, "Insufficient privileges")
}

func TestCreateTeamWithChannel(t *testing.T) {
	g := newFakeGraph(t)
	g.handle("POST /v1.0/teams", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Location", "/teams('team-42')/operations('op-1')")
		w.WriteHeader(http.StatusAccepted)
	})
	g.handle("POST /v1.0/teams/team-42/channels", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"id": "19:chan@thread.tacv2", "displayName": "Private Workspace"})
	})
	waiter := &recordingWaiter{}

	out, err := newCapability(t, g, waiter).CreateTeamWithChannel(context.Background(), testCred, testUser, "Contoso")

	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "team-42", out.TeamID)
	assert.Equal(t, "Contoso - A B", out.TeamName)
	assert.Equal(t, "19:chan@thread.tacv2", out.ChannelID)
	assert.Equal(t, "Private Workspace", out.ChannelName)
	assert.Equal(t, "https://teams.microsoft.com/l/team/team-42", out.WebURL)
	assert.Equal(t, []time.Duration{5 * time.Second}, waiter.waits)

	team := g.body("POST /v1.0/teams")
	assert.Equal(t, standardTeamTemplate, team["template@odata.bind"])
	assert.Equal(t, "Team workspace for A B", team["description"])
	member := team["members"].([]any)[0].(map[string]any)
	assert.Equal(t, "https://graph.microsoft.com/v1.0/users('a@b.com')", member["user@odata.bind"])

	channel := g.body("POST /v1.0/teams/team-42/channels")
	assert.Equal(t, "private", channel["membershipType"])
	assert.Equal(t, "Private channel for confidential discussions", channel["description"])
}

func TestCreateTeamWithoutLocationIsError(t *testing.T) {
	g := newFakeGraph(t)
	g.handle("POST /v1.0/teams", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	_, err := newCapability(t, g, NoWait{}).CreateTeamWithChannel(context.Background(), testCred, testUser, "Contoso")

	assert.ErrorIs(t, err, ErrMissingTeamLocation)
}

func TestCreateTeamHTTPErrorIsStepFailure(t *testing.T) {
	g := newFakeGraph(t)
	g.handle("POST /v1.0/teams", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	waiter := &recordingWaiter{}

	out, err := newCapability(t, g, waiter).CreateTeamWithChannel(context.Background(), testCred, testUser, "Contoso")

	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Empty(t, out.TeamID)
	assert.Empty(t, waiter.waits)
}

func TestCreateChannelFailureDropsTeam(t *testing.T) {
	g := newFakeGraph(t)
	g.handle("POST /v1.0/teams", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Location", "/teams('team-42')/operations('op-1')")
		w.WriteHeader(http.StatusAccepted)
	})
	g.handle("POST /v1.0/teams/team-42/channels", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	out, err := newCapability(t, g, NoWait{}).CreateTeamWithChannel(context.Background(), testCred, testUser, "Contoso")

	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Empty(t, out.TeamID)
	assert.Empty(t, out.WebURL)
	assert.Contains(t, out.Error, "404")
}

func TestCreateSiteAndList(t *testing.T) {
	g := newFakeGraph(t)
	g.handle("GET /v1.0/groups/team-42/sites/root", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "contoso.sharepoint.com,site-1,web-1", "webUrl": "https://contoso.sharepoint.com/sites/ContosoAB"})
	})
	g.handle("POST /v1.0/sites/{siteID}/lists", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "contoso.sharepoint.com,site-1,web-1", r.PathValue("siteID"))
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":          "list-1",
			"displayName": "Member Resources",
			"webUrl":      "https://contoso.sharepoint.com/sites/ContosoAB/Lists/Member%20Resources",
		})
	})

	out, err := newCapability(t, g, NoWait{}).CreateSiteAndList(context.Background(), testCred, "team-42", testUser, "Contoso")

	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "https://contoso.sharepoint.com/sites/ContosoAB", out.SiteURL)
	assert.Equal(t, "list-1", out.ListID)
	assert.Equal(t, "Member Resources", out.ListName)

	body := g.body("POST /v1.0/sites/{siteID}/lists")
	assert.Equal(t, map[string]any{"template": "genericList"}, body["list"])
	columns := body["columns"].([]any)
	require.Len(t, columns, 3)
	assert.Equal(t, map[string]any{"name": "ResourceName", "text": map[string]any{}}, columns[0])
	assert.Equal(t, map[string]any{"choices": []any{"Document", "Link", "Video", "Other"}}, columns[1].(map[string]any)["choice"])
	assert.Equal(t, map[string]any{"allowMultipleLines": true}, columns[2].(map[string]any)["text"])
}

func TestCreateSiteAndListRequiresTeamID(t *testing.T) {
	g := newFakeGraph(t)

	_, err := newCapability(t, g, NoWait{}).CreateSiteAndList(context.Background(), testCred, "", testUser, "Contoso")

	assert.ErrorIs(t, err, domain.ErrMissingTeamID)
}

func TestCreateSiteLookupFailureIsStepFailure(t *testing.T) {
	g := newFakeGraph(t)
	g.handle("GET /v1.0/groups/team-42/sites/root", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	out, err := newCapability(t, g, NoWait{}).CreateSiteAndList(context.Background(), testCred, "team-42", testUser, "Contoso")

	require.NoError(t, err)
	assert.False(t, out.Success)
}

func TestTemplatesOverrideDisplayStrings(t *testing.T) {
	g := newFakeGraph(t)
	g.handle("POST /v1.0/invitations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"id": "inv-1"})
	})
	tmpl := config.DefaultTemplates()
	tmpl.InviteMessage = "Hi {displayName} ({email})"
	c := newCapability(t, g, NoWait{})
	WithTemplates(config.NewStaticTemplateHolder(tmpl))(c)

	_, err := c.IssueGuestInvite(context.Background(), testCred, testUser)

	require.NoError(t, err)
	info := g.body("POST /v1.0/invitations")["invitedUserMessageInfo"].(map[string]any)
	assert.Equal(t, "Hi A B (a@b.com)", info["customizedMessageBody"])
}

func TestTeamIDFromLocation(t *testing.T) {
	assert.Equal(t, "abc", TeamIDFromLocation("/teams('abc')/operations('op')"))
	assert.Equal(t, "", TeamIDFromLocation("/teams/abc"))
	assert.Equal(t, "", TeamIDFromLocation(""))
}

func TestConfigValidation(t *testing.T) {
	cfg := ConfigFrom(config.GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s"})
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultAuthorityHost, cfg.AuthorityHost)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, "https://login.microsoftonline.com/t/oauth2/v2.0/token", cfg.tokenURL())

	cfg.TenantID = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TenantID")

	_, err = New(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestSleepWaiterHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepWaiter{}.Wait(ctx, time.Hour)

	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, SleepWaiter{}.Wait(context.Background(), 0))
}
