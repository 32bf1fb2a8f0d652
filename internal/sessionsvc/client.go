// Package sessionsvc is the C2 HTTP client for the upstream session
// service: it runs apps, starts/pauses/closes sessions, and reports
// WebRTC stats, translating its wire responses into biz.Session and
// biz.Error values.
package sessionsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/yagim/sigsvc/internal/biz"
	"github.com/yagim/sigsvc/internal/metrics"
)

const (
	// ConnectTimeout bounds how long dialing the session service may take.
	ConnectTimeout = 3 * time.Second
	// ReadTimeout bounds most requests end-to-end once dialed.
	ReadTimeout = 10 * time.Second
	// CreateSessionReadTimeout is longer because creating a session may
	// involve scheduling and starting a container.
	CreateSessionReadTimeout = 55 * time.Second
)

// Client talks to the session service over plain HTTP/JSON. It never
// retries: a failed call surfaces immediately as a biz.Error so the caller
// (SessionsManager) can decide what to do.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

func New(baseURL string, m *metrics.Metrics) *Client {
	dialer := &net.Dialer{Timeout: ConnectTimeout}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: dialer.DialContext,
			},
		},
		metrics: m,
	}
}

type wsConnWire struct {
	ID         string  `json:"id"`
	ConsumerID string  `json:"consumer_id"`
	ProducerID *string `json:"producer_id,omitempty"`
}

type containerWire struct {
	ID     string `json:"id"`
	NodeID string `json:"node_id"`
	Region string `json:"region"`
}

type sessionWire struct {
	ID             string         `json:"id"`
	AppReleaseUUID string         `json:"app_release_uuid"`
	Container      *containerWire `json:"container,omitempty"`
	Status         string         `json:"status,omitempty"`
	Updated        time.Time      `json:"updated"`
	UserID         int64          `json:"user_id"`
	WsConn         wsConnWire     `json:"ws_conn"`
}

func (s sessionWire) toBiz() biz.Session {
	var container *biz.Container
	if s.Container != nil {
		container = &biz.Container{ID: s.Container.ID, NodeID: s.Container.NodeID, Region: s.Container.Region}
	}
	return biz.Session{
		ID:             s.ID,
		AppReleaseUUID: s.AppReleaseUUID,
		Container:      container,
		Status:         biz.SessionStatus(s.Status),
		Updated:        s.Updated,
		UserID:         s.UserID,
		WsConn: biz.WsConn{
			ID:         s.WsConn.ID,
			ConsumerID: s.WsConn.ConsumerID,
			ProducerID: s.WsConn.ProducerID,
		},
	}
}

type createSessionRequestWire struct {
	AppReleaseUUID string     `json:"app_release_uuid"`
	UserID         int64      `json:"user_id"`
	WsConn         wsConnWire `json:"ws_conn"`
	PreferredDCs   []string   `json:"preferred_dcs,omitempty"`
}

type createSessionResponseWire struct {
	SessionID string `json:"session_id"`
}

type startSessionRequestWire struct {
	WsConn wsConnWire `json:"ws_conn"`
}

type getSessionResponseWire struct {
	Session sessionWire `json:"session"`
}

type getSessionsResponseWire struct {
	Sessions []sessionWire `json:"sessions"`
}

type submitWebRtcStatsRequestWire struct {
	Stats string `json:"stats"`
}

type errorResponseWire struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) CreateSession(ctx context.Context, req biz.CreateSessionSvcRequest) (string, error) {
	var out createSessionResponseWire
	body := createSessionRequestWire{
		AppReleaseUUID: req.AppReleaseUUID,
		UserID:         req.UserID,
		WsConn:         wsConnWire{ID: req.WsConn.ID, ConsumerID: req.WsConn.ConsumerID},
		PreferredDCs:   req.PreferredDCs,
	}
	if err := c.post(ctx, CreateSessionReadTimeout, "/sessions/create", body, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func (c *Client) StartSession(ctx context.Context, sessionID string, req biz.StartSessionSvcRequest) error {
	body := startSessionRequestWire{
		WsConn: wsConnWire{ID: req.WsConn.ID, ConsumerID: req.WsConn.ConsumerID, ProducerID: req.WsConn.ProducerID},
	}
	return c.post(ctx, ReadTimeout, "/sessions/"+sessionID+"/start", body, nil)
}

func (c *Client) PauseSession(ctx context.Context, sessionID string) error {
	return c.post(ctx, ReadTimeout, "/sessions/"+sessionID+"/pause", nil, nil)
}

func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.post(ctx, ReadTimeout, "/sessions/"+sessionID+"/close", nil, nil)
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*biz.Session, error) {
	var out getSessionResponseWire
	if err := c.get(ctx, ReadTimeout, "/sessions/"+sessionID, &out); err != nil {
		return nil, err
	}
	s := out.Session.toBiz()
	return &s, nil
}

func (c *Client) GetUserSessions(ctx context.Context, userID int64) ([]biz.Session, error) {
	var out getSessionsResponseWire
	if err := c.get(ctx, ReadTimeout, "/users/"+strconv.FormatInt(userID, 10)+"/sessions", &out); err != nil {
		return nil, err
	}
	return toBizSessions(out.Sessions), nil
}

func (c *Client) GetConsumerSessions(ctx context.Context, consumerID string) ([]biz.Session, error) {
	var out getSessionsResponseWire
	if err := c.get(ctx, ReadTimeout, "/consumers/"+consumerID+"/sessions", &out); err != nil {
		return nil, err
	}
	return toBizSessions(out.Sessions), nil
}

func (c *Client) GetProducerSessions(ctx context.Context, producerID string) ([]biz.Session, error) {
	var out getSessionsResponseWire
	if err := c.get(ctx, ReadTimeout, "/producers/"+producerID+"/sessions", &out); err != nil {
		return nil, err
	}
	return toBizSessions(out.Sessions), nil
}

func (c *Client) SubmitWebRtcStats(ctx context.Context, sessionID, stats string) error {
	body := submitWebRtcStatsRequestWire{Stats: stats}
	return c.post(ctx, ReadTimeout, "/sessions/"+sessionID+"/stats", body, nil)
}

func toBizSessions(wire []sessionWire) []biz.Session {
	out := make([]biz.Session, 0, len(wire))
	for _, s := range wire {
		out = append(out, s.toBiz())
	}
	return out
}

func (c *Client) post(ctx context.Context, timeout time.Duration, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sessionsvc: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return biz.SessionSvc(err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(ctx, timeout, req, out)
}

func (c *Client) get(ctx context.Context, timeout time.Duration, path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return biz.SessionSvc(err.Error())
	}
	return c.do(ctx, timeout, req, out)
}

func (c *Client) do(ctx context.Context, timeout time.Duration, req *http.Request, out any) error {
	if c.metrics != nil {
		c.metrics.Inc(metrics.SessionSvcCallsTotal)
	}

	err := c.doOnce(ctx, timeout, req, out)
	if err != nil && c.metrics != nil {
		c.metrics.Inc(metrics.SessionSvcErrorsTotal)
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, timeout time.Duration, req *http.Request, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.httpClient.Do(req.WithContext(reqCtx))
	if err != nil {
		return biz.SessionSvc(err.Error())
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return biz.SessionSvc(err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		var wireErr errorResponseWire
		_ = json.Unmarshal(bodyBytes, &wireErr)
		if resp.StatusCode == http.StatusConflict && wireErr.Code == biz.CodeSessionSvcSessionNotFound {
			return biz.SessionNotFound(wireErr.Message)
		}
		if wireErr.Message != "" {
			return biz.SessionSvc(wireErr.Message)
		}
		return biz.SessionSvc(fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return biz.SessionSvc(fmt.Sprintf("malformed response: %v", err))
	}
	return nil
}
