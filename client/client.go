package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"recoverflow/internal/dto/req"
	"recoverflow/internal/dto/resp"
	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/logger"

	"go.uber.org/zap"
)

const apiKeyHeader = "X-Recoverflow-Key"

// APIError is returned for any non 2xx answer.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("recoverflow: %d %s", e.StatusCode, e.Message)
}

// Client talks to the operator and integration surfaces of a recoverflow
// server. Operator calls need Login (or SetToken) first; the integration
// calls use the API key.
type Client struct {
	addr       string
	apiKey     string
	httpClient *http.Client

	mu    sync.RWMutex
	token string

	lastSeq atomic.Int64
	// OnReset runs when the server can no longer replay from the last seen seq.
	OnReset func()
	// HeartbeatTimeout must exceed the server's heartbeat interval.
	HeartbeatTimeout time.Duration
}

func NewClient(addr, apiKey string) *Client {
	return &Client{
		addr:             strings.TrimRight(addr, "/"),
		apiKey:           apiKey,
		httpClient:       &http.Client{Timeout: 0},
		HeartbeatTimeout: 45 * time.Second,
	}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// LastSeq is the sequence of the newest event handed to a Watch handler.
func (c *Client) LastSeq() int64 {
	return c.lastSeq.Load()
}

func (c *Client) Login(ctx context.Context, username, password string) (*resp.TokenResp, error) {
	var out resp.TokenResp
	err := c.do(ctx, http.MethodPost, "/v1/auth/login", false, req.LoginReq{Username: username, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	c.SetToken(out.AccessToken)
	return &out, nil
}

func (c *Client) RetryMessages(ctx context.Context, ids ...string) (string, error) {
	return c.retry(ctx, "/v1/retry/messages", req.RetryMessagesReq{MessageIDs: ids})
}

func (c *Client) RetryEndpoint(ctx context.Context, endpoint string, cutOff time.Time) (string, error) {
	return c.retry(ctx, "/v1/retry/endpoint", req.RetryEndpointReq{CutOffReq: cutOffReq(cutOff), Endpoint: endpoint})
}

func (c *Client) RetryQueue(ctx context.Context, queueAddress string, cutOff time.Time) (string, error) {
	return c.retry(ctx, "/v1/retry/queue", req.RetryQueueReq{CutOffReq: cutOffReq(cutOff), QueueAddress: queueAddress})
}

func (c *Client) RetryGroup(ctx context.Context, groupID string, cutOff time.Time) (string, error) {
	return c.retry(ctx, "/v1/retry/groups/"+url.PathEscape(groupID), cutOffReq(cutOff))
}

func (c *Client) RetryAll(ctx context.Context, cutOff time.Time) (string, error) {
	return c.retry(ctx, "/v1/retry/all", cutOffReq(cutOff))
}

func (c *Client) retry(ctx context.Context, path string, body any) (string, error) {
	var out resp.RetryAcceptedResp
	if err := c.do(ctx, http.MethodPost, path, false, body, &out); err != nil {
		return "", err
	}
	return out.RequestID, nil
}

func (c *Client) Operation(ctx context.Context, requestID string) (*resp.RetryOperationResp, error) {
	var out resp.RetryOperationResp
	if err := c.do(ctx, http.MethodGet, "/v1/retry/operations/"+url.PathEscape(requestID), false, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) History(ctx context.Context) (*v1.RetryHistoryView, error) {
	var out v1.RetryHistoryView
	if err := c.do(ctx, http.MethodGet, "/v1/retry/history", false, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Acknowledge(ctx context.Context, requestID string, retryType v1.RetryType) (bool, error) {
	var out resp.AcknowledgeResp
	path := "/v1/retry/history/" + url.PathEscape(requestID) + "/ack"
	if err := c.do(ctx, http.MethodPost, path, false, req.AcknowledgeReq{RetryType: string(retryType)}, &out); err != nil {
		return false, err
	}
	return out.Acknowledged, nil
}

func (c *Client) Groups(ctx context.Context, classifier string) (*resp.GroupListResp, error) {
	path := "/v1/groups"
	if classifier != "" {
		path += "?classifier=" + url.QueryEscape(classifier)
	}
	var out resp.GroupListResp
	if err := c.do(ctx, http.MethodGet, path, false, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ArchiveGroup(ctx context.Context, groupID string, cutOff time.Time) (*resp.ArchiveResp, error) {
	return c.transition(ctx, groupID, "archive", cutOff)
}

func (c *Client) UnarchiveGroup(ctx context.Context, groupID string, cutOff time.Time) (*resp.ArchiveResp, error) {
	return c.transition(ctx, groupID, "unarchive", cutOff)
}

func (c *Client) transition(ctx context.Context, groupID, action string, cutOff time.Time) (*resp.ArchiveResp, error) {
	var out resp.ArchiveResp
	path := "/v1/groups/" + url.PathEscape(groupID) + "/" + action
	if err := c.do(ctx, http.MethodPost, path, false, cutOffReq(cutOff), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReportResolved tells the server a message was processed successfully
// outside of a retry. It uses the integration surface.
func (c *Client) ReportResolved(ctx context.Context, failedMessageID string, processedAt time.Time) (bool, error) {
	var out resp.ResolveResp
	body := req.ResolveReq{}
	if !processedAt.IsZero() {
		body.ProcessedAt = &processedAt
	}
	path := "/v1/integration/messages/" + url.PathEscape(failedMessageID) + "/resolve"
	if err := c.do(ctx, http.MethodPost, path, true, body, &out); err != nil {
		return false, err
	}
	return out.Changed, nil
}

func cutOffReq(t time.Time) req.CutOffReq {
	if t.IsZero() {
		return req.CutOffReq{}
	}
	return req.CutOffReq{CutOff: &t}
}

func (c *Client) do(ctx context.Context, method, path string, integration bool, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	r, err := http.NewRequestWithContext(ctx, method, c.addr+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	c.authorize(r, integration)

	res, err := c.httpClient.Do(r)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusMultipleChoices {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(res.StatusCode)
		}
		return &APIError{StatusCode: res.StatusCode, Message: e.Error}
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (c *Client) authorize(r *http.Request, integration bool) {
	if integration {
		r.Header.Set(apiKeyHeader, c.apiKey)
		return
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

// Watch follows the integration event stream until ctx is done, calling
// handle once per event. Reconnects resume from LastSeq.
func (c *Client) Watch(ctx context.Context, types []string, handle func(v1.Event)) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := c.watchOnce(ctx, types, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return err
		}
		if err == nil {
			backoff = time.Second
		} else {
			logger.Warn("event stream disconnected", zap.Error(err))
		}

		jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) watchOnce(ctx context.Context, types []string, handle func(v1.Event)) error {
	q := url.Values{}
	if len(types) > 0 {
		q.Set("types", strings.Join(types, ","))
	}
	if seq := c.lastSeq.Load(); seq > 0 {
		q.Set("last_seq", strconv.FormatInt(seq, 10))
	}
	streamURL := c.addr + "/v1/integration/events/stream"
	if len(q) > 0 {
		streamURL += "?" + q.Encode()
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r, err := http.NewRequestWithContext(reqCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	c.authorize(r, true)
	res, err := c.httpClient.Do(r)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return &APIError{StatusCode: res.StatusCode, Message: http.StatusText(res.StatusCode)}
	}

	// the server pings every heartbeat; silence means a dead connection
	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())
	go func() {
		ticker := time.NewTicker(c.HeartbeatTimeout / 5)
		defer ticker.Stop()
		for {
			select {
			case <-reqCtx.Done():
				return
			case <-ticker.C:
				if time.Since(time.Unix(0, lastActivity.Load())) > c.HeartbeatTimeout {
					logger.Warn("event stream heartbeat timeout, reconnecting")
					cancel()
					return
				}
			}
		}
	}()

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var eventType string
	var data bytes.Buffer
	for scanner.Scan() {
		lastActivity.Store(time.Now().UnixNano())
		line := scanner.Text()
		if line != "" {
			if v, ok := strings.CutPrefix(line, "event:"); ok {
				eventType = strings.TrimSpace(v)
			} else if v, ok := strings.CutPrefix(line, "data:"); ok {
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimSpace(v))
			}
			continue
		}

		switch eventType {
		case "reset":
			logger.Warn("event stream reset, replay window passed", zap.Int64("last_seq", c.lastSeq.Load()))
			if c.OnReset != nil {
				c.OnReset()
			}
		case "event":
			var e v1.Event
			if err := json.Unmarshal(data.Bytes(), &e); err != nil {
				logger.Error("failed to decode event", zap.Error(err))
				break
			}
			c.deliver(e, handle)
		case "error":
			return fmt.Errorf("event stream: %s", data.String())
		}
		eventType = ""
		data.Reset()
	}
	return scanner.Err()
}

func (c *Client) deliver(e v1.Event, handle func(v1.Event)) {
	if e.Seq <= c.lastSeq.Load() {
		return
	}
	handle(e)
	c.lastSeq.Store(e.Seq)
}
