// Package sauce reports test outcomes to the Sauce Labs job API.
package sauce

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kuitang/catmaid-guitest/internal/config"
	"github.com/kuitang/catmaid-guitest/internal/errs"
	"github.com/kuitang/catmaid-guitest/internal/logutil"
	"github.com/kuitang/catmaid-guitest/internal/obs"
)

// DefaultTimeout bounds one report request.
const DefaultTimeout = 30 * time.Second

// Reporter marks a remote job as passed or failed.
type Reporter interface {
	Report(ctx context.Context, creds config.Credentials, jobID string, passed bool) error
}

// JobURL is the human-facing page of a job.
func JobURL(jobID string) string {
	return "https://saucelabs.com/jobs/" + url.PathEscape(jobID)
}

// Client talks to the REST API with basic auth. It never retries.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the API rooted at apiURL.
func NewClient(apiURL string) *Client {
	httpClient := resty.New().
		SetBaseURL(apiURL).
		SetTimeout(DefaultTimeout).
		SetRetryCount(0).
		SetTransport(obs.NewTransport("sauce", nil)).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	return &Client{http: httpClient}
}

type jobUpdate struct {
	Passed bool `json:"passed"`
}

// Report sends PUT /{username}/jobs/{jobID} with {"passed": passed}.
func (c *Client) Report(ctx context.Context, creds config.Credentials, jobID string, passed bool) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(creds.Username, creds.AccessKey).
		SetPathParams(map[string]string{
			"username": creds.Username,
			"job":      jobID,
		}).
		SetBody(jobUpdate{Passed: passed}).
		Put("/{username}/jobs/{job}")
	if err != nil {
		return errs.Wrap(errs.Unavailable, "report job status", err)
	}
	if resp.IsError() {
		return errs.New(errs.FromHTTPStatus(resp.StatusCode()),
			fmt.Sprintf("report job status: %s: %s", resp.Status(), logutil.TruncateForLog(resp.String(), 200)))
	}
	obs.PkgFrom(ctx, "sauce").Info("job status reported", "job_id", jobID, "passed", passed)
	return nil
}

// Noop discards reports. Local runs use it.
type Noop struct{}

func (Noop) Report(context.Context, config.Credentials, string, bool) error { return nil }
