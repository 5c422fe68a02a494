// Package lights controls a smart-lighting bridge over its REST API and
// resolves spoken targets ("the kitchen") to bridge resources.
package lights

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// Kind is the fixed set of failure classes a bridge call can end in.
type Kind string

const (
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindNotFound     Kind = "NOT_FOUND"
	KindRateLimited  Kind = "RATE_LIMITED"
	KindServerError  Kind = "SERVER_ERROR"
	KindNetworkError Kind = "NETWORK_ERROR"
	KindGeneric      Kind = "GENERIC"
)

var userMessages = map[Kind]string{
	KindUnauthorized: "the lighting connection has expired, please reconnect it in settings",
	KindForbidden:    "I'm not allowed to control those lights",
	KindNotFound:     "I couldn't find those lights",
	KindRateLimited:  "the lighting bridge is busy right now, try again in a moment",
	KindServerError:  "the lighting bridge is having trouble right now",
	KindNetworkError: "I couldn't reach the lighting bridge",
	KindGeneric:      "something went wrong with the lights",
}

// Error is a classified bridge failure. Message is always user-safe; raw
// transport errors and response bodies never end up in it.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func newError(k Kind) *Error {
	return &Error{Kind: k, Message: userMessages[k]}
}

func classify(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindServerError
	default:
		return KindGeneric
	}
}

// UserMessage renders err for the end user, dropping the KIND: prefix.
func UserMessage(err error) string {
	var le *Error
	if errors.As(err, &le) {
		if le.Message != "" {
			return le.Message
		}
		return userMessages[le.Kind]
	}
	return userMessages[KindGeneric]
}

// State is a desired light state. Nil fields are left unchanged.
type State struct {
	On         *bool  `json:"on,omitempty"`
	Brightness *int   `json:"brightness,omitempty"`
	Color      string `json:"color,omitempty"`
}

type Resource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Manifest is the bridge's inventory of addressable resources.
type Manifest struct {
	Rooms  []Resource `json:"rooms"`
	Zones  []Resource `json:"zones"`
	Lights []Resource `json:"lights"`
}

// Client talks to the lighting bridge.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) Manifest(ctx context.Context) (Manifest, error) {
	var m Manifest
	err := c.do(ctx, http.MethodGet, "/manifest", nil, &m)
	return m, err
}

// FindLights queries the bridge live for lights whose name matches name.
func (c *Client) FindLights(ctx context.Context, name string) ([]Resource, error) {
	var out []Resource
	err := c.do(ctx, http.MethodGet, "/lights?name="+url.QueryEscape(name), nil, &out)
	return out, err
}

func (c *Client) SetLightState(ctx context.Context, id string, s State) error {
	return c.do(ctx, http.MethodPut, "/lights/"+url.PathEscape(id)+"/state", s, nil)
}

func (c *Client) SetGroupState(ctx context.Context, id string, s State) error {
	return c.do(ctx, http.MethodPut, "/groups/"+url.PathEscape(id)+"/action", s, nil)
}

func (c *Client) RecallScene(ctx context.Context, groupID, scene string) error {
	body := map[string]string{"scene": scene}
	return c.do(ctx, http.MethodPut, "/groups/"+url.PathEscape(groupID)+"/scene", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newError(KindNetworkError)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return newError(classify(resp.StatusCode))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(KindGeneric)
	}
	return nil
}
