package notify

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// newRestClient is the HTTP client every sender shares the settings of:
// a short timeout and a couple of retries, honouring Retry-After on 429.
func newRestClient() *resty.Client {
	return resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r.StatusCode() == 429
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "papersim-notify")
}

// checkResponse turns a non-2xx response into an error carrying a prefix of
// the body.
func checkResponse(name string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: send request: %w", name, err)
	}
	if !resp.IsSuccess() {
		body := resp.String()
		if len(body) > 1024 {
			body = body[:1024]
		}
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode(), body)
	}
	return nil
}
