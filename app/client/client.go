package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"docchat/app/middleware"
	"docchat/types"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Client talks to the docchat HTTP API. All requests of one client share a
// session id so the server keeps a single history for it.
type Client struct {
	baseURL   string
	sessionID string
	timeout   time.Duration
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		sessionID: uuid.NewString(),
		timeout:   timeout,
	}
}

func (c *Client) SessionID() string { return c.sessionID }

// DownloadURL turns a download_url returned by /ask into an absolute URL.
func (c *Client) DownloadURL(rel string) string {
	return c.baseURL + rel
}

func (c *Client) Upload(paths []string) (*types.UploadResponse, error) {
	if len(paths) == 0 {
		return nil, errors.New("no files given")
	}
	a := fiber.Post(c.baseURL + "/upload")
	for _, p := range paths {
		a.SendFile(p, "files")
	}
	a.MultipartForm(nil)

	var resp types.UploadResponse
	if err := c.do(a, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Ask(query string, eli5 bool) (*types.AskResponse, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("eli5", strconv.FormatBool(eli5))
	a := fiber.Get(c.baseURL + "/ask").QueryString(q.Encode())

	var resp types.AskResponse
	if err := c.do(a, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ClearUploads() error {
	return c.do(fiber.Post(c.baseURL+"/clear_uploads"), nil)
}

func (c *Client) FAQ() ([]types.FAQItem, error) {
	var resp struct {
		FAQ []types.FAQItem `json:"faq"`
	}
	if err := c.do(fiber.Get(c.baseURL+"/faq"), &resp); err != nil {
		return nil, err
	}
	return resp.FAQ, nil
}

func (c *Client) History() ([]types.HistoryEntry, error) {
	var resp struct {
		History []types.HistoryEntry `json:"history"`
	}
	if err := c.do(fiber.Get(c.baseURL+"/history"), &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

func (c *Client) ClearHistory() error {
	return c.do(fiber.Delete(c.baseURL+"/history"), nil)
}

func (c *Client) Status() (*types.StatusResponse, error) {
	var resp types.StatusResponse
	if err := c.do(fiber.Get(c.baseURL+"/status"), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(a *fiber.Agent, out any) error {
	a.Set(middleware.SessionHeader, c.sessionID)
	if c.timeout > 0 {
		a.Timeout(c.timeout)
	}

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("request failed: %w", errors.Join(errs...))
	}
	if code >= fiber.StatusBadRequest {
		var apiErr struct {
			Message string            `json:"error"`
			Errors  map[string]string `json:"errors"`
		}
		if err := json.Unmarshal(body, &apiErr); err == nil {
			if apiErr.Message != "" {
				return fmt.Errorf("server returned %d: %s", code, apiErr.Message)
			}
			if len(apiErr.Errors) > 0 {
				return fmt.Errorf("server returned %d: %v", code, apiErr.Errors)
			}
		}
		return fmt.Errorf("server returned %d", code)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
