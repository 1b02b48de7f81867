package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call("Hub."+method, req, resp)
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkerStart starts one worker kind.
func (c *Client) WorkerStart(kind string) (*WorkerResponse, error) {
	var resp WorkerResponse
	if err := c.call("WorkerStart", WorkerRequest{Kind: kind}, &resp); err != nil {
		return nil, err
	}
	return &resp, resp.Fault.Err()
}

// WorkerStop stops one worker kind.
func (c *Client) WorkerStop(kind string) (*WorkerResponse, error) {
	var resp WorkerResponse
	if err := c.call("WorkerStop", WorkerRequest{Kind: kind}, &resp); err != nil {
		return nil, err
	}
	return &resp, resp.Fault.Err()
}

// StartAll starts every worker kind.
func (c *Client) StartAll() (*AllResponse, error) {
	var resp AllResponse
	if err := c.call("StartAll", AllRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, resp.Fault.Err()
}

// StopAll stops every worker kind.
func (c *Client) StopAll() (*AllResponse, error) {
	var resp AllResponse
	if err := c.call("StopAll", AllRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, resp.Fault.Err()
}

// Call issues a correlated request and returns the raw result.
func (c *Client) Call(req CallRequest) (json.RawMessage, error) {
	var resp CallResponse
	if err := c.call("Call", req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Fault.Err(); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// CallJSON marshals payload, issues the request, and decodes the result into out.
func (c *Client) CallJSON(kind, typ string, payload any, scope string, timeout time.Duration, out any) error {
	req := CallRequest{Kind: kind, Type: typ, Scope: scope, TimeoutMs: int(timeout / time.Millisecond)}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		req.Payload = raw
	}
	result, err := c.Call(req)
	if err != nil {
		return err
	}
	if out == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// Send delivers an uncorrelated command.
func (c *Client) Send(req SendRequest) error {
	var resp SendResponse
	if err := c.call("Send", req, &resp); err != nil {
		return err
	}
	return resp.Fault.Err()
}

// OpenSession creates a display target on the daemon.
func (c *Client) OpenSession(label string, primary bool) (*OpenSessionResponse, error) {
	var resp OpenSessionResponse
	if err := c.call("OpenSession", OpenSessionRequest{Label: label, Primary: primary}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CloseSession closes a display target.
func (c *Client) CloseSession(id string) error {
	var resp SessionResponse
	if err := c.call("CloseSession", SessionRequest{Session: id}, &resp); err != nil {
		return err
	}
	return resp.Fault.Err()
}

// Subscribe registers a session on a push channel.
func (c *Client) Subscribe(id, channel, scope string) error {
	var resp SessionResponse
	if err := c.call("Subscribe", SubscribeRequest{Session: id, Channel: channel, Scope: scope}, &resp); err != nil {
		return err
	}
	return resp.Fault.Err()
}

// Unsubscribe removes a session from a push channel.
func (c *Client) Unsubscribe(id, channel, scope string) error {
	var resp SessionResponse
	if err := c.call("Unsubscribe", SubscribeRequest{Session: id, Channel: channel, Scope: scope}, &resp); err != nil {
		return err
	}
	return resp.Fault.Err()
}

// Poll reads messages queued for a session after since.
func (c *Client) Poll(req PollRequest) (*PollResponse, error) {
	var resp PollResponse
	if err := c.call("Poll", req, &resp); err != nil {
		return nil, err
	}
	return &resp, resp.Fault.Err()
}

// TestNotification sends a test notification.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
