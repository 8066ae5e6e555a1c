package remote

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-orm/pkg/auth"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
	"github.com/ekaya-inc/ekaya-orm/pkg/message"
	"github.com/ekaya-inc/ekaya-orm/pkg/retry"
)

// ContentType and MaxBodyBytes describe the envelopes on the wire.
const (
	ContentType  = "text/xml; charset=utf-8"
	MaxBodyBytes = 16 << 20
	tokenTTL     = 5 * time.Minute
)

// Client calls a peer server.
type Client struct {
	url     string
	http    *http.Client
	secret  string
	session string
	retry   *retry.Config
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithSecret signs every request with an HS256 bearer token.
func WithSecret(secret string) Option { return func(c *Client) { c.secret = secret } }

// WithSession names the calling session in the token claims.
func WithSession(key string) Option { return func(c *Client) { c.session = key } }

// WithRetry overrides the transport retry policy.
func WithRetry(cfg *retry.Config) Option { return func(c *Client) { c.retry = cfg } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

// NewClient returns a client for the peer at url.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:    url,
		http:   &http.Client{Timeout: 30 * time.Second},
		retry:  retry.DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.Named("remote")
	return c
}

func (c *Client) URL() string { return c.url }

// sentError marks a failure that happened after the request may have
// reached the peer. It is never retried.
type sentError struct{ err error }

func (e *sentError) Error() string     { return e.err.Error() }
func (e *sentError) Unwrap() error     { return e.err }
func (e *sentError) IsRetryable() bool { return false }

// isDialError reports whether err happened while connecting, before any
// byte of the request was written.
func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// mutates reports whether an action changes data on the peer.
func mutates(action string) bool {
	switch action {
	case ActionInsert, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// post sends one request and decodes the response. Transport failures and
// unreadable gateway answers are retried for reads. Inserts, updates and
// deletes are retried only when the connection could not be opened, so a
// timed out mutation is never applied twice.
func (c *Client) post(ctx context.Context, req *Request) (*Response, int, error) {
	body, err := xml.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}
	body = append([]byte(xml.Header), body...)

	var (
		resp   *Response
		status int
	)
	once := mutates(req.Action)
	err = retry.DoIfRetryable(ctx, c.retry, func() error {
		var err error
		resp, status, err = c.send(ctx, body)
		if err != nil && once && !isDialError(err) {
			return &sentError{err: err}
		}
		return err
	})
	return resp, status, err
}

// send performs one HTTP round trip. The status is returned with the
// error when the peer answered something unreadable.
func (c *Client) send(ctx context.Context, body []byte) (*Response, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", ContentType)
	if c.secret != "" {
		token, err := auth.Sign(c.secret, "client", c.session, tokenTTL)
		if err != nil {
			return nil, 0, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	r, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		return nil, r.StatusCode, fmt.Errorf("read response: %w", err)
	}
	var decoded Response
	if err := xml.Unmarshal(data, &decoded); err != nil {
		return nil, r.StatusCode, fmt.Errorf("HTTP %d: unreadable response: %v", r.StatusCode, err)
	}
	return &decoded, r.StatusCode, nil
}

// call runs an operation and turns every failure into a RemoteError.
func (c *Client) call(ctx context.Context, req *Request) (*Response, error) {
	req.ID = uuid.NewString()
	c.logger.Debug("Calling peer",
		zap.String("action", req.Action),
		zap.String("entity", req.Entity),
		zap.String("request_id", req.ID))

	resp, status, err := c.post(ctx, req)
	if err != nil {
		c.logger.Error("Peer unreachable",
			zap.String("url", c.url),
			zap.String("action", req.Action),
			zap.Error(err))
		return nil, &apperrors.RemoteError{URL: c.url, Transport: err.Error()}
	}
	if resp.Result != ResultOK {
		fault := "no result"
		if resp.Fault != nil {
			fault = resp.Fault.String()
		}
		c.logger.Warn("Peer fault",
			zap.String("action", req.Action),
			zap.String("fault", fault))
		return nil, &apperrors.RemoteError{URL: c.url, Fault: fault, Transport: fmt.Sprintf("HTTP %d", status)}
	}
	return resp, nil
}

func (c *Client) clientFault(action, reason string) error {
	f := Fault{Actor: ActorClient, Action: action, Reason: reason}
	return &apperrors.RemoteError{URL: c.url, Fault: f.String()}
}

// Select reads the objects of an entity matching filters. At least one
// filter is required.
func (c *Client) Select(ctx context.Context, entity string, filters dataset.FilterSet, orderBy []string) ([]*message.Element, error) {
	if len(filters) == 0 {
		return nil, c.clientFault(ActionSelect, "at least one filter is required")
	}
	resp, err := c.call(ctx, &Request{Action: ActionSelect, Entity: entity, Filters: FiltersOf(filters), OrderBy: orderBy})
	if err != nil {
		return nil, err
	}
	return resp.Objects, nil
}

// Insert stores a new object and returns it as re-serialized by the peer,
// generated key included.
func (c *Client) Insert(ctx context.Context, entity string, obj *message.Element) (*message.Element, error) {
	resp, err := c.call(ctx, &Request{Action: ActionInsert, Entity: entity, Objects: []*message.Element{obj}})
	if err != nil {
		return nil, err
	}
	if len(resp.Objects) == 0 {
		return nil, c.clientFault(ActionInsert, "peer returned no entity")
	}
	return resp.Objects[0], nil
}

// Update writes an existing object. The peer matches it by primary key.
func (c *Client) Update(ctx context.Context, entity string, obj *message.Element) (bool, error) {
	if _, err := c.call(ctx, &Request{Action: ActionUpdate, Entity: entity, Objects: []*message.Element{obj}}); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes an object. The peer matches it by primary key.
func (c *Client) Delete(ctx context.Context, entity string, obj *message.Element) (bool, error) {
	if _, err := c.call(ctx, &Request{Action: ActionDelete, Entity: entity, Objects: []*message.Element{obj}}); err != nil {
		return false, err
	}
	return true, nil
}

// Describe asks the peer for the attributes of an entity.
func (c *Client) Describe(ctx context.Context, entity string) ([]*mapping.Attribute, error) {
	resp, err := c.call(ctx, &Request{Action: ActionDescribe, Entity: entity})
	if err != nil {
		return nil, err
	}
	out := make([]*mapping.Attribute, 0, len(resp.Attributes))
	for _, e := range resp.Attributes {
		a := &mapping.Attribute{}
		if !a.LoadMetaInfo(e) {
			return nil, c.clientFault(ActionDescribe, "malformed attribute "+e.Name)
		}
		out = append(out, a)
	}
	return out, nil
}
