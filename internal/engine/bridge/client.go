// Package bridge implements engine.Engine against a bridge process that owns
// a live simulator session. Every engine call is one JSON request to
// POST <url>/v1/<operation>.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nvandessel/pfstudy/internal/engine"
)

// DefaultTimeout bounds a single bridge call when none is configured.
const DefaultTimeout = 30 * time.Second

// Error is a failure reported by the bridge or by the HTTP exchange with it.
type Error struct {
	Op      string `json:"-"`
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("bridge %s: %s (%s)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("bridge %s: status %d: %s", e.Op, e.Status, e.Message)
}

// Is maps the bridge's not_found code onto engine.ErrNotFound.
func (e *Error) Is(target error) bool {
	return target == engine.ErrNotFound && e.Code == "not_found"
}

// Config configures a Client.
type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// Client is an engine.Engine backed by a bridge.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ engine.Engine = (*Client)(nil)

// New creates a client. The bridge is not contacted until the first call.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("bridge url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// envelope wraps every bridge response.
type envelope struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// call posts req to the operation endpoint and decodes the result into resp
// when resp is non-nil.
func (c *Client) call(ctx context.Context, op string, req, resp any) error {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/"+op, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending %s request: %w", op, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", op, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if httpResp.StatusCode != http.StatusOK {
			return &Error{Op: op, Status: httpResp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return fmt.Errorf("parsing %s response: %w", op, err)
	}
	if env.Error != nil {
		env.Error.Op = op
		env.Error.Status = httpResp.StatusCode
		return env.Error
	}
	if httpResp.StatusCode != http.StatusOK {
		return &Error{Op: op, Status: httpResp.StatusCode, Message: http.StatusText(httpResp.StatusCode)}
	}

	if resp == nil {
		return nil
	}
	if len(env.Result) == 0 {
		return &Error{Op: op, Status: httpResp.StatusCode, Message: "empty result"}
	}
	if err := json.Unmarshal(env.Result, resp); err != nil {
		return fmt.Errorf("parsing %s result: %w", op, err)
	}
	return nil
}

type elementRequest struct {
	Element  engine.Element `json:"element"`
	Name     string         `json:"name,omitempty"`
	Value    *float64       `json:"value,omitempty"`
	Side     *int           `json:"side,omitempty"`
	Variable string         `json:"variable,omitempty"`
}

type failedResult struct {
	Failed bool `json:"failed"`
}

// Activate activates the project and its study case.
func (c *Client) Activate(ctx context.Context, p engine.Project) error {
	return c.call(ctx, "activate", struct {
		Project engine.Project `json:"project"`
	}{p}, nil)
}

// Elements lists the elements matching pattern.
func (c *Client) Elements(ctx context.Context, pattern string) ([]engine.Element, error) {
	var out struct {
		Elements []engine.Element `json:"elements"`
	}
	err := c.call(ctx, "elements", struct {
		Pattern string `json:"pattern"`
	}{pattern}, &out)
	return out.Elements, err
}

// Attribute reads a numeric attribute.
func (c *Client) Attribute(ctx context.Context, el engine.Element, name string) (float64, error) {
	var out struct {
		Value *float64 `json:"value"`
	}
	if err := c.call(ctx, "attribute", elementRequest{Element: el, Name: name}, &out); err != nil {
		return 0, err
	}
	if out.Value == nil {
		return 0, &Error{Op: "attribute", Status: http.StatusOK, Message: fmt.Sprintf("%s of %s has no value", name, el)}
	}
	return *out.Value, nil
}

// SetAttribute writes a numeric attribute.
func (c *Client) SetAttribute(ctx context.Context, el engine.Element, name string, value float64) error {
	return c.call(ctx, "set_attribute", elementRequest{Element: el, Name: name, Value: &value}, nil)
}

// Terminal returns the terminal at side 0 or 1 of a branch.
func (c *Client) Terminal(ctx context.Context, el engine.Element, side int) (engine.Element, error) {
	var out struct {
		Element engine.Element `json:"element"`
	}
	err := c.call(ctx, "terminal", elementRequest{Element: el, Side: &side}, &out)
	return out.Element, err
}

// Switches lists the switches in the element's cubicles.
func (c *Client) Switches(ctx context.Context, el engine.Element) ([]engine.Element, error) {
	var out struct {
		Elements []engine.Element `json:"elements"`
	}
	err := c.call(ctx, "switches", elementRequest{Element: el}, &out)
	return out.Elements, err
}

// PrepareLoadFlow selects the load-flow formulation.
func (c *Client) PrepareLoadFlow(ctx context.Context, mode engine.LoadFlowMode) error {
	return c.call(ctx, "prepare_load_flow", struct {
		Mode int `json:"mode"`
	}{int(mode)}, nil)
}

// SolveLoadFlow runs one load flow.
func (c *Client) SolveLoadFlow(ctx context.Context) (bool, error) {
	var out failedResult
	err := c.call(ctx, "solve_load_flow", struct{}{}, &out)
	return out.Failed, err
}

// PrepareDynamic sets up a time-domain simulation.
func (c *Client) PrepareDynamic(ctx context.Context, cfg engine.DynamicConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return c.call(ctx, "prepare_dynamic", struct {
		Config engine.DynamicConfig `json:"config"`
	}{cfg}, nil)
}

// SolveTimeDomain runs the prepared simulation.
func (c *Client) SolveTimeDomain(ctx context.Context) (bool, error) {
	var out failedResult
	err := c.call(ctx, "solve_time_domain", struct{}{}, &out)
	return out.Failed, err
}

// Results reads one recorded variable.
func (c *Client) Results(ctx context.Context, el engine.Element, variable string) (engine.Series, error) {
	var out struct {
		Series engine.Series `json:"series"`
	}
	if err := c.call(ctx, "results", elementRequest{Element: el, Variable: variable}, &out); err != nil {
		return engine.Series{}, err
	}
	if len(out.Series.Time) != len(out.Series.Values) {
		return engine.Series{}, &Error{Op: "results", Status: http.StatusOK,
			Message: fmt.Sprintf("%s of %s: %d times for %d values", variable, el, len(out.Series.Time), len(out.Series.Values))}
	}
	return out.Series, nil
}

// CreateShortCircuit creates a fault event and its optional clearing event.
func (c *Client) CreateShortCircuit(ctx context.Context, sc engine.ShortCircuit) error {
	return c.call(ctx, "create_short_circuit", struct {
		Event engine.ShortCircuit `json:"event"`
	}{sc}, nil)
}

// DeleteShortCircuit removes a fault and its clearing event.
func (c *Client) DeleteShortCircuit(ctx context.Context, name string) error {
	err := c.call(ctx, "delete_short_circuit", struct {
		Name string `json:"name"`
	}{name}, nil)
	if errors.Is(err, engine.ErrNotFound) {
		return nil
	}
	return err
}

// Close ends the bridge session and releases idle connections.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
	defer cancel()
	err := c.call(ctx, "close", struct{}{}, nil)
	c.client.CloseIdleConnections()
	return err
}
