package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

const defaultTimeout = 15 * time.Second

// Client talks to the server of record over HTTP.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
}

func NewClient(baseURL, token string) *Client {
	return &Client{baseURL: baseURL, token: token, timeout: defaultTimeout}
}

func (c *Client) Current(ctx context.Context) (*Activity, error) {
	var act Activity
	err := c.do(ctx, fiber.MethodGet, "/activities/current", nil, &act)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &act, nil
}

func (c *Client) Start(ctx context.Context, req StartRequest) (Activity, error) {
	var act Activity
	err := c.do(ctx, fiber.MethodPost, "/activities", req, &act)
	return act, err
}

func (c *Client) Pause(ctx context.Context, id string) (Activity, error) {
	var act Activity
	err := c.do(ctx, fiber.MethodPost, "/activities/"+id+"/pause", nil, &act)
	return act, err
}

func (c *Client) Resume(ctx context.Context, id string) (Activity, error) {
	var act Activity
	err := c.do(ctx, fiber.MethodPost, "/activities/"+id+"/resume", nil, &act)
	return act, err
}

func (c *Client) Finish(ctx context.Context, id string, req FinishRequest) (FinishResult, error) {
	var res FinishResult
	err := c.do(ctx, fiber.MethodPost, "/activities/"+id+"/finish", req, &res)
	return res, err
}

func (c *Client) Discard(ctx context.Context, id string) (Activity, error) {
	var act Activity
	err := c.do(ctx, fiber.MethodPost, "/activities/"+id+"/discard", nil, &act)
	return act, err
}

func (c *Client) AppendPoints(ctx context.Context, id string, req PointsRequest) (PointsResult, error) {
	var res PointsResult
	err := c.do(ctx, fiber.MethodPost, "/activities/"+id+"/points", req, &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a := fiber.AcquireAgent()
	req := a.Request()
	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if c.token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	if body != nil {
		a.JSON(body)
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	a.Timeout(timeout)

	if err := a.Parse(); err != nil {
		fiber.ReleaseAgent(a)
		return err
	}
	code, respBody, errs := a.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("activity api %s %s: %w", method, path, errors.Join(errs...))
	}

	if code == fiber.StatusConflict {
		var conflict struct {
			Activity *Activity `json:"activity"`
		}
		if json.Unmarshal(respBody, &conflict) == nil && conflict.Activity != nil {
			return &ExistingActivityError{Activity: *conflict.Activity}
		}
	}
	if code < 200 || code >= 300 {
		return &StatusError{Code: code, Message: string(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}
