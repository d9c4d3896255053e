package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/mobilytix/be-templates-approvals/internal/errors"
	"github.com/mobilytix/be-templates-approvals/internal/httpclient"
)

// StageRule is one configurable approval-stage template from the escalation
// matrix, keyed by channel and priority. TimeLimit and WarningOffset are in
// minutes from stage activation.
type StageRule struct {
	ID            string   `json:"id"`
	Level         int      `json:"level"`
	RoleID        string   `json:"roleId"`
	TimeLimit     int      `json:"timeLimit"`
	WarningOffset int      `json:"warningOffset"`
	Escalators    []string `json:"escalators"`
	ChannelID     string   `json:"channelId"`
	Priority      string   `json:"priority"`
	Status        string   `json:"status"`
}

// EscalationMatrixClient fetches approval-stage rules from the settings
// service.
type EscalationMatrixClient struct {
	client *httpclient.Client
}

// NewEscalationMatrixClient creates a new escalation matrix client.
func NewEscalationMatrixClient(baseURL string) *EscalationMatrixClient {
	return &EscalationMatrixClient{client: httpclient.NewClient(baseURL)}
}

type rulesResponse struct {
	Data struct {
		List []StageRule `json:"list"`
	} `json:"data"`
}

// GetRules returns all configured stage rules for a channel. A transport
// failure is surfaced as a dependency error; an empty result is legitimate
// and means no rules are configured.
func (c *EscalationMatrixClient) GetRules(ctx context.Context, channelID string) ([]StageRule, error) {
	path := fmt.Sprintf("/api/v1/escalation_matrix?channel_id=%s&limit=20", url.QueryEscape(channelID))

	var resp rulesResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDependency, "escalation matrix service unavailable")
	}

	return resp.Data.List, nil
}
