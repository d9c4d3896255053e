package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mobilytix/be-templates-approvals/internal/errors"
	"github.com/mobilytix/be-templates-approvals/internal/httpclient"
)

// User is the directory record for an approver, reviewer, or escalator.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
}

// UsersClient resolves identities against the platform user directory.
type UsersClient struct {
	client *httpclient.Client
}

// NewUsersClient creates a new users client.
func NewUsersClient(baseURL string) *UsersClient {
	return &UsersClient{client: httpclient.NewClient(baseURL)}
}

type userResponse struct {
	Data *User `json:"data"`
}

// FindByEmail looks a user up by email. Returns nil (no error) when the
// directory has no matching user; transport failures are dependency errors.
func (c *UsersClient) FindByEmail(ctx context.Context, email string) (*User, error) {
	path := fmt.Sprintf("/api/v1/users/by-email?email=%s", url.QueryEscape(email))

	var resp userResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		var statusErr *httpclient.StatusError
		if stderrors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeDependency, "user directory unavailable")
	}

	return resp.Data, nil
}
