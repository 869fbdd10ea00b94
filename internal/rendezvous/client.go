package rendezvous

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arjunv/filepipe/pkg/models"
)

// Client is a small HTTP client for the rendezvous Server. It implements
// remotexfer.Channel, so it can be handed straight to
// remotexfer.NewSender/NewReceiver.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	code string
	role string
}

// NewClient creates a client with reasonable HTTP timeouts.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Pair requests a role for code, blocking until the rendezvous server
// assigns one. Call this once before Send/Recv.
func (c *Client) Pair(ctx context.Context, code string) error {
	body, err := json.Marshal(pairRequest{Code: code})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/pair", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return models.NewError(models.ErrConnectRefused, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pair: unexpected status %s", resp.Status)
	}
	var out pairResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	c.code = code
	c.role = out.Role
	return nil
}

// Send delivers msg to the other paired role.
func (c *Client) Send(ctx context.Context, msg []byte) error {
	url := fmt.Sprintf("%s/api/v1/room/send?code=%s&role=%s", c.BaseURL, c.code, c.role)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(msg))
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return models.NewError(models.ErrPeerDisconnect, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send: unexpected status %s", resp.Status)
	}
	return nil
}

// Recv long-polls the rendezvous server for the next message addressed
// to this role, retrying on the server's empty-poll timeout until ctx is
// done.
func (c *Client) Recv(ctx context.Context) ([]byte, error) {
	url := fmt.Sprintf("%s/api/v1/room/recv?code=%s&role=%s", c.BaseURL, c.code, c.role)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, models.NewError(models.ErrPeerDisconnect, err)
		}
		if resp.StatusCode == http.StatusNoContent {
			resp.Body.Close()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("recv: unexpected status %s", resp.Status)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		return data, nil
	}
}

// Close releases the room on the server so the other peer's next send or
// recv fails cleanly.
func (c *Client) Close() error {
	url := fmt.Sprintf("%s/api/v1/room/close?code=%s", c.BaseURL, c.code)
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
