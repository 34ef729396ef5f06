package imagectl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"imaged/pkg/types"
)

// Client is a thin JSON client for the imaged HTTP API.
type Client struct {
	base string
	hc   *http.Client
}

// NewClient builds a client for the given server address, e.g.
// "http://127.0.0.1:8080".
func NewClient(addr string, timeout time.Duration) *Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		hc:   &http.Client{Timeout: timeout},
	}
}

// do issues the request and decodes the JSON response into out. Non-2xx
// responses become errors carrying the server's error payload.
func (c *Client) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var er types.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&er) == nil && er.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, er.Error, er.Code)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) ListModels() (types.ModelsResponse, error) {
	var out types.ModelsResponse
	err := c.do(http.MethodGet, "/models", nil, &out)
	return out, err
}

func (c *Client) RegisterModel(req types.RegisterRequest) (types.ModelConfig, error) {
	var out types.ModelConfig
	err := c.do(http.MethodPost, "/models", req, &out)
	return out, err
}

func (c *Client) Generate(req types.GenerateRequest) (types.GenerateResponse, error) {
	var out types.GenerateResponse
	err := c.do(http.MethodPost, "/generate", req, &out)
	return out, err
}

func (c *Client) StartFinetune(req types.FinetuneRequest) (types.RunStatus, error) {
	var out types.RunStatus
	err := c.do(http.MethodPost, "/finetune", req, &out)
	return out, err
}

func (c *Client) ListRuns() ([]types.RunStatus, error) {
	var out []types.RunStatus
	err := c.do(http.MethodGet, "/finetune", nil, &out)
	return out, err
}

func (c *Client) GetRun(id string) (types.RunStatus, error) {
	var out types.RunStatus
	err := c.do(http.MethodGet, "/finetune/"+id, nil, &out)
	return out, err
}

func (c *Client) CancelRun(id string) (types.RunStatus, error) {
	var out types.RunStatus
	err := c.do(http.MethodPost, "/finetune/"+id+"/cancel", struct{}{}, &out)
	return out, err
}
