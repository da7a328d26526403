package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ignite/newsletter-delivery/internal/domain"
	"github.com/ignite/newsletter-delivery/internal/pkg/httpretry"
	"github.com/ignite/newsletter-delivery/internal/service/sending"
)

// tokenHeader carries the server token on every API call.
const tokenHeader = "X-Postmark-Server-Token"

// Client sends email through an HTTP email API.
type Client struct {
	http    httpretry.HTTPDoer
	baseURL string
	sender  domain.SubscriberEmail
	token   string
}

// NewClient creates a client posting to baseURL + "/email". doer is usually
// an *httpretry.RetryClient.
func NewClient(baseURL string, sender domain.SubscriberEmail, token string, doer httpretry.HTTPDoer) *Client {
	if doer == nil {
		doer = httpretry.NewRetryClient(nil, 0)
	}
	return &Client{
		http:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
		sender:  sender,
		token:   token,
	}
}

type sendEmailRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// Send posts one email.
func (c *Client) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	payload, err := json.Marshal(sendEmailRequest{
		From:     c.sender.String(),
		To:       to,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
	if err != nil {
		return sending.Permanent(fmt.Errorf("encode email: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email", bytes.NewReader(payload))
	if err != nil {
		return sending.Permanent(fmt.Errorf("build email request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("email API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	if isPermanentStatus(resp.StatusCode) {
		return sending.Permanent(err)
	}
	return err
}

// isPermanentStatus reports statuses caused by the message itself. Auth and
// routing failures (401, 403, 404) are configuration problems and stay
// transient so tasks wait for the fix instead of being dropped.
func isPermanentStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
