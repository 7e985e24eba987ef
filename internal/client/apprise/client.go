package apprise

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/lingosub/internal/config"
	"github.com/lingosub/pkg/logger"
)

// Client wraps the Apprise API.
type Client struct {
	cfg    config.AppriseConfig
	client *resty.Client
}

// NewClient creates a new Apprise client.
func NewClient(cfg config.AppriseConfig) *Client {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)

	return &Client{
		cfg:    cfg,
		client: client,
	}
}

// NotifyRequest is the request body for Apprise.
type NotifyRequest struct {
	Body  string `json:"body"`
	Title string `json:"title,omitempty"`
	Type  string `json:"type,omitempty"` // info, success, warning, failure
	Tag   string `json:"tag,omitempty"`
}

// Notify sends a notification via Apprise. Disabled clients do nothing.
func (c *Client) Notify(ctx context.Context, title, body, notifyType string) error {
	if !c.cfg.Enabled {
		return nil
	}

	tag := c.cfg.Tag
	if tag == "" {
		tag = "all"
	}

	url := fmt.Sprintf("%s/notify/%s", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Key)
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(NotifyRequest{Title: title, Body: body, Type: notifyType, Tag: tag}).
		Post(url)
	if err != nil {
		return fmt.Errorf("apprise request: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("apprise error (%d): %s", resp.StatusCode(), resp.String())
	}

	logger.Debugf("🔔 Notification sent: %s", title)
	return nil
}

// JobCompleted reports a finished subtitle job.
func (c *Client) JobCompleted(ctx context.Context, jobID, source string, lines int, cache string) error {
	body := fmt.Sprintf("%s\n%d subtitle lines", source, lines)
	if cache != "" {
		body += fmt.Sprintf(" (served from %s cache)", cache)
	}
	return c.Notify(ctx, "✅ Subtitles ready: "+jobID, body, "success")
}

// JobFailed reports a failed subtitle job.
func (c *Client) JobFailed(ctx context.Context, jobID, source, stage string, err error) error {
	body := fmt.Sprintf("%s\nStage: %s\nError: %v", source, stage, err)
	return c.Notify(ctx, "❌ Subtitle job failed: "+jobID, body, "failure")
}
