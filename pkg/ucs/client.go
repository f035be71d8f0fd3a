package ucs

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/remote"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/stores"
)

const contentTypeXML = "text/xml"

// Client issues commands to blade management controllers. One client
// serves every compute endpoint; the per-endpoint state (the session
// cookie) lives in the SessionManager.
type Client struct {
	http     *http.Client
	sessions *SessionManager
	logger   zerolog.Logger
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Timeout bounds a single HTTP round trip. Callers add end-to-end
	// deadlines via ctx.
	Timeout    time.Duration
	SessionTTL time.Duration
	RefreshTTL time.Duration
	Clock      remote.Clock
	Logger     zerolog.Logger
}

// NewClient creates a controller client with its own session manager.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	c := &Client{
		http:   &http.Client{Timeout: opts.Timeout},
		logger: opts.Logger.With().Str("component", "ucs-client").Logger(),
	}
	c.sessions = NewSessionManager(c, opts.Clock, opts.SessionTTL, opts.RefreshTTL)
	return c
}

// post sends one command string and decodes the response envelope.
func (c *Client) post(ctx context.Context, ep *stores.Endpoint, cmd string) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, strings.NewReader(cmd))
	if err != nil {
		return nil, remote.NewTransportError("cannot build controller request", err)
	}
	req.Header.Set("Content-Type", contentTypeXML)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, remote.NewTransportError("controller call failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, remote.NewTransportError("cannot read controller response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, remote.NewProtocolError("controller returned non-success status", resp.StatusCode, string(body))
	}

	return decodeEnvelope(body)
}

// authed obtains a session cookie and sends the command produced by
// build. A fresh token decision is made on every call.
func (c *Client) authed(ctx context.Context, ep *stores.Endpoint, build func(cookie string) string) (*envelope, error) {
	cookie, err := c.sessions.Token(ctx, ep)
	if err != nil {
		return nil, err
	}
	return c.post(ctx, ep, build(cookie))
}

// Login performs a full login and returns the new session cookie.
// Implements Authenticator for the session manager.
func (c *Client) Login(ctx context.Context, ep *stores.Endpoint) (string, error) {
	env, err := c.post(ctx, ep, LoginCmd(ep.Username, ep.Password))
	if err != nil {
		return "", remote.NewAuthError("login failed for endpoint "+ep.ID, err)
	}
	if env.Cookie == "" {
		return "", remote.NewAuthError("login response carried no cookie for endpoint "+ep.ID, nil)
	}
	return env.Cookie, nil
}

// Refresh performs a lightweight session refresh reusing an existing
// cookie. Implements Authenticator for the session manager.
func (c *Client) Refresh(ctx context.Context, ep *stores.Endpoint, cookie string) (string, error) {
	env, err := c.post(ctx, ep, RefreshCmd(ep.Username, ep.Password, cookie))
	if err != nil {
		return "", remote.NewAuthError("session refresh failed for endpoint "+ep.ID, err)
	}
	if env.Cookie == "" {
		return "", remote.NewAuthError("refresh response carried no cookie for endpoint "+ep.ID, nil)
	}
	return env.Cookie, nil
}

// Sessions exposes the session manager, mainly so lifecycle code can
// invalidate entries when endpoints are removed.
func (c *Client) Sessions() *SessionManager {
	return c.sessions
}

// ListBlades returns every compute blade the controller reports.
func (c *Client) ListBlades(ctx context.Context, ep *stores.Endpoint) ([]ComputeBlade, error) {
	env, err := c.authed(ctx, ep, ListComputeBladesCmd)
	if err != nil {
		return nil, err
	}
	return env.objects().Blades, nil
}

// ListProfiles returns service profile instances (not templates).
func (c *Client) ListProfiles(ctx context.Context, ep *stores.Endpoint) ([]Profile, error) {
	env, err := c.authed(ctx, ep, ListProfilesCmd)
	if err != nil {
		return nil, err
	}

	profiles := make([]Profile, 0)
	for _, p := range env.objects().Profiles {
		if !p.IsTemplate() {
			profiles = append(profiles, p)
		}
	}
	return profiles, nil
}

// ListTemplates returns profile templates.
func (c *Client) ListTemplates(ctx context.Context, ep *stores.Endpoint) ([]Profile, error) {
	env, err := c.authed(ctx, ep, ListProfilesCmd)
	if err != nil {
		return nil, err
	}

	templates := make([]Profile, 0)
	for _, p := range env.objects().Profiles {
		if p.IsTemplate() {
			templates = append(templates, p)
		}
	}
	return templates, nil
}

// CloneProfile clones an existing service profile and returns the new
// profile's distinguished name.
func (c *Client) CloneProfile(ctx context.Context, ep *stores.Endpoint, srcDn, newName string) (string, error) {
	env, err := c.authed(ctx, ep, func(cookie string) string {
		return CloneProfileCmd(cookie, srcDn, newName)
	})
	if err != nil {
		return "", err
	}

	p, err := env.firstProfile()
	if err != nil {
		return "", err
	}
	return p.Dn, nil
}

// InstantiateTemplate creates a named service profile from a template
// and returns the new profile's distinguished name.
func (c *Client) InstantiateTemplate(ctx context.Context, ep *stores.Endpoint, templateDn, profileName string) (string, error) {
	env, err := c.authed(ctx, ep, func(cookie string) string {
		return InstantiateTemplateCmd(cookie, templateDn, profileName)
	})
	if err != nil {
		return "", err
	}

	p, err := env.firstProfile()
	if err != nil {
		return "", err
	}
	return p.Dn, nil
}

// AssociateProfile requests the controller bind a profile to a blade.
// The transition is asynchronous; callers poll BladeAssociation for
// convergence.
func (c *Client) AssociateProfile(ctx context.Context, ep *stores.Endpoint, profileDn, bladeDn string) error {
	_, err := c.authed(ctx, ep, func(cookie string) string {
		return AssociateProfileCmd(cookie, profileDn, bladeDn)
	})
	return err
}

// DisassociateProfile requests the controller unbind a profile from
// its blade.
func (c *Client) DisassociateProfile(ctx context.Context, ep *stores.Endpoint, profileDn string) error {
	_, err := c.authed(ctx, ep, func(cookie string) string {
		return DisassociateProfileCmd(cookie, profileDn)
	})
	return err
}

// DeleteProfile removes a service profile from the controller.
func (c *Client) DeleteProfile(ctx context.Context, ep *stores.Endpoint, profileDn string) error {
	_, err := c.authed(ctx, ep, func(cookie string) string {
		return DeleteProfileCmd(cookie, profileDn)
	})
	return err
}

// BladeAssociation resolves a blade by dn and returns its association
// state. An association of "none" after an associate request means the
// controller refused the transition; callers treat that as failure.
func (c *Client) BladeAssociation(ctx context.Context, ep *stores.Endpoint, bladeDn string) (AssociationState, error) {
	env, err := c.authed(ctx, ep, func(cookie string) string {
		return ResolveDnCmd(cookie, bladeDn)
	})
	if err != nil {
		return "", err
	}

	b, err := env.firstBlade()
	if err != nil {
		return "", err
	}
	return AssociationState(b.Association), nil
}

// ProfileAssociation resolves a profile by dn and returns its
// association state.
func (c *Client) ProfileAssociation(ctx context.Context, ep *stores.Endpoint, profileDn string) (AssociationState, error) {
	env, err := c.authed(ctx, ep, func(cookie string) string {
		return ResolveDnCmd(cookie, profileDn)
	})
	if err != nil {
		return "", err
	}

	p, err := env.firstProfile()
	if err != nil {
		return "", err
	}
	return AssociationState(p.AssocState), nil
}
