// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote implements the task-service protocol client: session
// establishment against the bootstrap page, the form-encoded action-list
// transport, and the batched update queue with its implicit flush rules.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/mobilenotes/tasksync/internal/auth"
	"github.com/mobilenotes/tasksync/node"
)

// Session reuse window. A login younger than this is reused instead of
// re-fetching the bootstrap page.
const loginReuseWindow = 5 * time.Minute

// Queue length at which EnqueueUpdate flushes on its own.
const maxQueuedUpdates = 10

// Config carries the client's endpoints and credential source.
type Config struct {
	// BaseURL is the bootstrap/action endpoint of the task service.
	BaseURL string
	// FallbackURL is tried when the bootstrap page at BaseURL does not
	// carry a session blob, which happens for custom-domain accounts.
	FallbackURL string
	// Tokens supplies the bearer credential.
	Tokens auth.TokenProvider
	// HTTPClient overrides the transport, mostly for tests. When nil a
	// cookie-jar client is built.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the remote task service. It is not safe for concurrent
// use; the engine serializes access.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	loggedIn      bool
	lastLogin     time.Time
	clientVersion int64
	actionID      int

	updates []node.Action
}

// NewClient builds a protocol client from cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote client: base URL is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("remote client: token provider is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("remote client: %w", err)
		}
		hc = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}
	return &Client{
		cfg:      cfg,
		http:     hc,
		logger:   cfg.Logger,
		actionID: 1,
	}, nil
}

// nextActionID hands out monotonically increasing per-session action ids.
func (c *Client) nextActionID() int {
	id := c.actionID
	c.actionID++
	return id
}

// Login establishes a session against the bootstrap page, which embeds a
// `_setup(...)` script blob carrying the protocol version. A login younger
// than the reuse window is kept as is.
func (c *Client) Login(ctx context.Context) error {
	if c.loggedIn && time.Since(c.lastLogin) < loginReuseWindow {
		return nil
	}
	c.loggedIn = false

	setup, err := c.fetchSetup(ctx)
	if err != nil {
		return err
	}
	c.clientVersion = setup.V
	c.loggedIn = true
	c.lastLogin = time.Now()
	c.logger.Debug("logged in", "client_version", c.clientVersion)
	return nil
}

// ListLists returns the account's current task-list collection. The
// bootstrap page is always re-fetched so callers observe mutations made
// earlier in the same session; queued updates are flushed first.
func (c *Client) ListLists(ctx context.Context) ([]node.RemoteNode, error) {
	if !c.loggedIn {
		return nil, ErrNotLoggedIn
	}
	if err := c.FlushUpdates(ctx); err != nil {
		return nil, err
	}
	setup, err := c.fetchSetup(ctx)
	if err != nil {
		return nil, err
	}
	return setup.T.Lists, nil
}

type setupBlob struct {
	V int64 `json:"v"`
	T struct {
		Lists []node.RemoteNode `json:"lists"`
	} `json:"t"`
}

func (c *Client) fetchSetup(ctx context.Context) (*setupBlob, error) {
	token, err := c.cfg.Tokens(ctx)
	if err != nil {
		return nil, networkErr("login", err)
	}
	body, err := c.fetchBootstrap(ctx, c.cfg.BaseURL, token)
	if err == nil && !strings.Contains(body, "_setup(") && c.cfg.FallbackURL != "" {
		c.logger.Info("bootstrap page has no session blob, retrying fallback endpoint")
		body, err = c.fetchBootstrap(ctx, c.cfg.FallbackURL, token)
	}
	if err != nil {
		return nil, err
	}
	blob, err := extractSetupBlob(body)
	if err != nil {
		return nil, err
	}
	var setup setupBlob
	if err := json.Unmarshal([]byte(blob), &setup); err != nil {
		return nil, actionErr("login", fmt.Sprintf("unparseable session blob: %v", err))
	}
	return &setup, nil
}

func (c *Client) fetchBootstrap(ctx context.Context, base, token string) (string, error) {
	u := base
	if strings.Contains(u, "?") {
		u += "&auth=" + url.QueryEscape(token)
	} else {
		u += "?auth=" + url.QueryEscape(token)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", networkErr("login", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", networkErr("login", fmt.Errorf("bootstrap returned %s", resp.Status))
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", networkErr("login", err)
	}
	return string(b), nil
}

// extractSetupBlob cuts the JSON argument out of the `_setup(...)}</script>`
// fragment of the bootstrap page.
func extractSetupBlob(body string) (string, error) {
	start := strings.Index(body, "_setup(")
	if start < 0 {
		return "", actionErr("login", "bootstrap page has no session blob")
	}
	rest := body[start+len("_setup("):]
	end := strings.Index(rest, ")}</script>")
	if end < 0 {
		return "", actionErr("login", "session blob is not terminated")
	}
	return rest[:end], nil
}

// actionResponse is the service's reply to an action-list request.
type actionResponse struct {
	Results []struct {
		NewID string `json:"new_id"`
	} `json:"results"`
	Tasks []node.RemoteNode `json:"tasks"`
}

// postActions submits one action-list request and decodes the reply.
func (c *Client) postActions(ctx context.Context, actions []node.Action) (*actionResponse, error) {
	if !c.loggedIn {
		return nil, ErrNotLoggedIn
	}
	payload := struct {
		ActionList    []node.Action `json:"action_list"`
		ClientVersion int64         `json:"client_version"`
	}{ActionList: actions, ClientVersion: c.clientVersion}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("post actions: %w", err)
	}

	form := url.Values{"r": {string(encoded)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("post actions: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, networkErr("post actions", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// Any rejection invalidates the session so the next pass logs in
		// from scratch.
		c.loggedIn = false
		return nil, actionErr("post actions", fmt.Sprintf("service returned %s", resp.Status))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkErr("post actions", err)
	}
	var ar actionResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, actionErr("post actions", fmt.Sprintf("unparseable response: %v", err))
	}
	return &ar, nil
}

// ListTasks fetches every live node of a list, flushing queued updates
// first so the snapshot reflects them.
func (c *Client) ListTasks(ctx context.Context, listID string) ([]node.RemoteNode, error) {
	if err := c.FlushUpdates(ctx); err != nil {
		return nil, err
	}
	a := node.Action{
		ActionType: node.ActionTypeGetAll,
		ActionID:   c.nextActionID(),
		ListID:     listID,
		GetDeleted: new(bool),
	}
	resp, err := c.postActions(ctx, []node.Action{a})
	if err != nil {
		return nil, fmt.Errorf("list tasks %s: %w", listID, err)
	}
	return resp.Tasks, nil
}

// CreateTask creates a task synchronously and writes the assigned id back
// into it. The owning list must already hold the task so ordering fields
// derive from the final sequence.
func (c *Client) CreateTask(ctx context.Context, t *node.Task, parent *node.List) error {
	if err := c.FlushUpdates(ctx); err != nil {
		return err
	}
	a := t.CreateAction(c.nextActionID(), parent)
	resp, err := c.postActions(ctx, []node.Action{a})
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].NewID == "" {
		return actionErr("create task", "no id assigned")
	}
	t.RemoteID = resp.Results[0].NewID
	return nil
}

// CreateList creates a task list synchronously and writes the assigned id
// back into it.
func (c *Client) CreateList(ctx context.Context, l *node.List) error {
	if err := c.FlushUpdates(ctx); err != nil {
		return err
	}
	a := l.CreateAction(c.nextActionID())
	resp, err := c.postActions(ctx, []node.Action{a})
	if err != nil {
		return fmt.Errorf("create list: %w", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].NewID == "" {
		return actionErr("create list", "no id assigned")
	}
	l.RemoteID = resp.Results[0].NewID
	return nil
}

// Move relocates a task. Within one list only the predecessor travels; a
// cross-list move names source and destination lists and omits the
// predecessor, landing the task at the head of the destination.
func (c *Client) Move(ctx context.Context, t *node.Task, from, to *node.List) error {
	if err := c.FlushUpdates(ctx); err != nil {
		return err
	}
	a := node.Action{
		ActionType: node.ActionTypeMove,
		ActionID:   c.nextActionID(),
		ID:         t.RemoteID,
	}
	if from.RemoteID == to.RemoteID {
		if prior := to.PriorSibling(t); prior != nil {
			a.PriorSiblingID = prior.RemoteID
		}
		a.SourceList = from.RemoteID
		a.DestParent = to.RemoteID
	} else {
		a.SourceList = from.RemoteID
		a.DestParent = to.RemoteID
		a.DestList = to.RemoteID
	}
	if _, err := c.postActions(ctx, []node.Action{a}); err != nil {
		return fmt.Errorf("move task %s: %w", t.RemoteID, err)
	}
	return nil
}

// Delete soft-deletes a node through the standard update path, flushing
// queued updates first so none are lost.
func (c *Client) Delete(ctx context.Context, n node.Updater) error {
	if err := c.FlushUpdates(ctx); err != nil {
		return err
	}
	n.SetDeleted(true)
	a := n.UpdateAction(c.nextActionID())
	if _, err := c.postActions(ctx, []node.Action{a}); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// EnqueueUpdate queues an update action, flushing automatically once the
// queue grows past the batch limit.
func (c *Client) EnqueueUpdate(ctx context.Context, n node.Updater) error {
	c.updates = append(c.updates, n.UpdateAction(c.nextActionID()))
	if len(c.updates) > maxQueuedUpdates {
		return c.FlushUpdates(ctx)
	}
	return nil
}

// FlushUpdates submits every queued update in one request. An empty queue
// is a no-op.
func (c *Client) FlushUpdates(ctx context.Context) error {
	if len(c.updates) == 0 {
		return nil
	}
	batch := c.updates
	c.updates = nil
	if _, err := c.postActions(ctx, batch); err != nil {
		return fmt.Errorf("flush %d updates: %w", len(batch), err)
	}
	c.logger.Debug("flushed update batch", "count", len(batch))
	return nil
}

// ResetUpdates drops queued updates without sending them.
func (c *Client) ResetUpdates() { c.updates = nil }

// PendingUpdates reports the queue length, for tests and diagnostics.
func (c *Client) PendingUpdates() int { return len(c.updates) }

// ClientVersion exposes the session protocol version.
func (c *Client) ClientVersion() int64 { return c.clientVersion }
