package datera

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/remote"
)

const (
	apiVersion      = "v2"
	contentTypeJSON = "application/json"
	headerAuthToken = "auth-token"

	defaultTimeout = 60 * time.Second
)

// Client speaks the storage array's JSON REST API. Every call logs in
// first: the array hands out short-lived session keys and the driver
// treats them as disposable rather than caching them.
type Client struct {
	http   *http.Client
	logger zerolog.Logger
}

// ClientOptions tune the REST client.
type ClientOptions struct {
	// Timeout bounds each HTTP round trip. Zero means 60s.
	Timeout time.Duration
	Logger  zerolog.Logger
}

// NewClient builds a storage REST client.
func NewClient(opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		logger: opts.Logger.With().Str("component", "datera-client").Logger(),
	}
}

func (c *Client) baseURL(conn *Connection) string {
	return fmt.Sprintf("http://%s:%d/%s", conn.ManagementIP, conn.ManagementPort, apiVersion)
}

// login obtains a fresh session key for one request.
func (c *Client) login(ctx context.Context, conn *Connection) (string, error) {
	body, err := json.Marshal(loginRequest{Name: conn.Username, Password: conn.Password})
	if err != nil {
		return "", remote.NewAuthError("encode login request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL(conn)+"/login", bytes.NewReader(body))
	if err != nil {
		return "", remote.NewAuthError("build login request", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", remote.NewAuthError("login request failed", remote.NewTransportError("login", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", remote.NewAuthError("read login response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", remote.NewAuthError(fmt.Sprintf("login rejected with status %d", resp.StatusCode), classifyBody(resp.StatusCode, raw))
	}

	var login loginResponse
	if err := json.Unmarshal(raw, &login); err != nil {
		return "", remote.NewAuthError("decode login response", err)
	}
	if login.Key == "" {
		return "", remote.NewAuthError("login response carried no session key", nil)
	}
	return login.Key, nil
}

// do runs one authenticated API call and decodes the response into out
// when out is non-nil. Payload may be nil for body-less requests.
func (c *Client) do(ctx context.Context, conn *Connection, method, path string, payload, out any) error {
	key, err := c.login(ctx, conn)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return remote.NewTransportError(path, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL(conn)+path, body)
	if err != nil {
		return remote.NewTransportError(path, err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set(headerAuthToken, key)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Msg("storage API call failed")
		return remote.NewTransportError(path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return remote.NewTransportError(path, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("storage API call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyBody(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return remote.NewProtocolError("decode storage API response", resp.StatusCode, string(raw))
	}
	return nil
}

// classifyBody maps an error response onto the shared error taxonomy.
// The array reports failures as a JSON object with a symbolic name; an
// undecodable body degrades to a protocol error carrying the raw text.
func classifyBody(status int, raw []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Name != "" {
		switch apiErr.Name {
		case errNameNotFound:
			return remote.NewNotFoundError(apiErr.Message)
		case errNameAuthFailed:
			return remote.NewAuthError(apiErr.Message, nil)
		default:
			return remote.NewProtocolError(fmt.Sprintf("%s: %s", apiErr.Name, apiErr.Message), status, string(raw))
		}
	}
	return remote.NewProtocolError("storage API error", status, string(raw))
}
