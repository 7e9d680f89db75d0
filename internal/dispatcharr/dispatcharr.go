// Package dispatcharr is the channel-gateway client for a Dispatcharr
// instance: JWT auth with refresh-on-401, channel CRUD, stream listings per
// group, EPG association, and the playlist/EPG refresh triggers. It is the
// concrete implementation of the lifecycle Gateway and the group processor's
// stream source.
//
// Calls use the quick retry policy: the aggregator is a local service and a
// long ladder would stall the whole pipeline.
package dispatcharr

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
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/teamarr/teamarr/internal/httpclient"
	"github.com/teamarr/teamarr/internal/lifecycle"
	"github.com/teamarr/teamarr/internal/logging"
	"github.com/teamarr/teamarr/internal/sports"
)

// Client talks to one Dispatcharr deployment.
type Client struct {
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
	Retry      httpclient.RetryPolicy

	mu        sync.Mutex
	access    string
	refresh   string
	logoCache map[string]int64

	log logrus.FieldLogger
}

// New builds a client. baseURL is the root of the instance, e.g.
// "http://dispatcharr:9191".
func New(baseURL, username, password string, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logging.Discard()
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Username:   username,
		Password:   password,
		HTTPClient: httpclient.Default(),
		Retry:      httpclient.QuickRetryPolicy,
		logoCache:  make(map[string]int64),
		log:        log,
	}
}

func (c *Client) url(path string) string { return c.BaseURL + path }

// apiError carries the status and a body snippet for diagnostics.
type apiError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("dispatcharr: %s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// tokenResponse is the JWT pair from the token endpoints.
type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (c *Client) login(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{
		"username": c.Username,
		"password": c.Password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.url("/api/accounts/token/"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("dispatcharr: login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return &apiError{Method: "POST", URL: "/api/accounts/token/", Code: resp.StatusCode, Body: string(snippet)}
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("dispatcharr: decode token: %w", err)
	}
	c.mu.Lock()
	c.access, c.refresh = tok.Access, tok.Refresh
	c.mu.Unlock()
	c.log.Debug("authenticated")
	return nil
}

// refreshToken exchanges the refresh token for a new access token, falling
// back to a full login when the refresh token is also stale.
func (c *Client) refreshToken(ctx context.Context) error {
	c.mu.Lock()
	ref := c.refresh
	c.mu.Unlock()
	if ref == "" {
		return c.login(ctx)
	}
	body, _ := json.Marshal(map[string]string{"refresh": ref})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.url("/api/accounts/token/refresh/"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("dispatcharr: token refresh: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return c.login(ctx)
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return err
	}
	c.mu.Lock()
	c.access = tok.Access
	if tok.Refresh != "" {
		c.refresh = tok.Refresh
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	have := c.access != ""
	c.mu.Unlock()
	if have {
		return nil
	}
	return c.login(ctx)
}

// send issues one request. GETs ride the retry policy; mutations are sent
// once so a flaky network cannot double-create.
func (c *Client) send(ctx context.Context, method, rawURL string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	tok := c.access
	c.mu.Unlock()
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if method == http.MethodGet {
		return httpclient.DoWithRetry(ctx, c.HTTPClient, req, c.Retry)
	}
	return c.HTTPClient.Do(req)
}

// do runs an authenticated request, retrying once through a token refresh on
// 401, and decodes the JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, rawURL string, payload, out any) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = b
	}
	resp, err := c.send(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("dispatcharr: %s %s: %w", method, rawURL, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if err := c.refreshToken(ctx); err != nil {
			return err
		}
		resp, err = c.send(ctx, method, rawURL, body)
		if err != nil {
			return fmt.Errorf("dispatcharr: %s %s: %w", method, rawURL, err)
		}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("dispatcharr: %s %s: %w", method, rawURL, lifecycle.ErrNotFound)
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return &apiError{Method: method, URL: rawURL, Code: resp.StatusCode, Body: string(snippet)}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// page is the DRF-style envelope Dispatcharr wraps large listings in.
type page struct {
	Count   int             `json:"count"`
	Next    string          `json:"next"`
	Results json.RawMessage `json:"results"`
}

// getList fetches a listing endpoint that may be a bare array or a paginated
// envelope, appending every page's results decoded into slices of T via fn.
func (c *Client) getList(ctx context.Context, rawURL string, fn func(json.RawMessage) error) error {
	next := rawURL
	for next != "" {
		var raw json.RawMessage
		if err := c.do(ctx, http.MethodGet, next, nil, &raw); err != nil {
			return err
		}
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			return fn(trimmed)
		}
		var p page
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return fmt.Errorf("dispatcharr: decode page: %w", err)
		}
		if len(p.Results) > 0 {
			if err := fn(p.Results); err != nil {
				return err
			}
		}
		next = p.Next
	}
	return nil
}

// channelJSON is Dispatcharr's channel resource. Numbers are decimal in the
// API (sub-channels like 5.1); managed channels only ever use integers.
type channelJSON struct {
	ID      int64   `json:"id"`
	UUID    string  `json:"uuid"`
	Name    string  `json:"name"`
	Number  float64 `json:"channel_number"`
	TVGID   string  `json:"tvg_id"`
	Streams []int64 `json:"streams"`
}

func (ch *channelJSON) toGateway() *lifecycle.GatewayChannel {
	return &lifecycle.GatewayChannel{
		ID:        ch.ID,
		UUID:      ch.UUID,
		Name:      ch.Name,
		Number:    int(ch.Number),
		TVGID:     ch.TVGID,
		StreamIDs: ch.Streams,
	}
}

// CreateChannel implements lifecycle.Gateway.
func (c *Client) CreateChannel(ctx context.Context, req lifecycle.CreateChannelRequest) (*lifecycle.GatewayChannel, error) {
	payload := map[string]any{
		"name":           req.Name,
		"channel_number": req.Number,
		"tvg_id":         req.TVGID,
		"streams":        req.StreamIDs,
	}
	if req.StreamProfileID != nil {
		payload["stream_profile_id"] = *req.StreamProfileID
	}
	if id := c.ensureLogo(ctx, req.LogoURL); id != nil {
		payload["logo_id"] = *id
	}
	var ch channelJSON
	if err := c.do(ctx, http.MethodPost, c.url("/api/channels/channels/"), payload, &ch); err != nil {
		return nil, err
	}
	return ch.toGateway(), nil
}

// UpdateChannel applies a partial update.
func (c *Client) UpdateChannel(ctx context.Context, id int64, patch lifecycle.ChannelPatch) error {
	payload := map[string]any{}
	if patch.Name != nil {
		payload["name"] = *patch.Name
	}
	if patch.Number != nil {
		payload["channel_number"] = *patch.Number
	}
	if patch.LogoURL != nil {
		if logoID := c.ensureLogo(ctx, *patch.LogoURL); logoID != nil {
			payload["logo_id"] = *logoID
		}
	}
	if len(payload) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPatch, c.url(fmt.Sprintf("/api/channels/channels/%d/", id)), payload, nil)
}

// DeleteChannel removes a channel; deleting an already-gone channel returns
// lifecycle.ErrNotFound (wrapped), which retire paths tolerate.
func (c *Client) DeleteChannel(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, c.url(fmt.Sprintf("/api/channels/channels/%d/", id)), nil, nil)
}

// GetChannel fetches one channel.
func (c *Client) GetChannel(ctx context.Context, id int64) (*lifecycle.GatewayChannel, error) {
	var ch channelJSON
	if err := c.do(ctx, http.MethodGet, c.url(fmt.Sprintf("/api/channels/channels/%d/", id)), nil, &ch); err != nil {
		return nil, err
	}
	return ch.toGateway(), nil
}

// ListChannels returns every channel in the aggregator.
func (c *Client) ListChannels(ctx context.Context) ([]lifecycle.GatewayChannel, error) {
	var out []lifecycle.GatewayChannel
	err := c.getList(ctx, c.url("/api/channels/channels/"), func(raw json.RawMessage) error {
		var chans []channelJSON
		if err := json.Unmarshal(raw, &chans); err != nil {
			return err
		}
		for i := range chans {
			out = append(out, *chans[i].toGateway())
		}
		return nil
	})
	return out, err
}

// UpdateChannelStreams replaces a channel's ordered stream list.
func (c *Client) UpdateChannelStreams(ctx context.Context, id int64, streamIDs []int64) error {
	if streamIDs == nil {
		streamIDs = []int64{}
	}
	return c.do(ctx, http.MethodPatch,
		c.url(fmt.Sprintf("/api/channels/channels/%d/", id)),
		map[string]any{"streams": streamIDs}, nil)
}

// AddToProfile enables a channel in a channel profile.
func (c *Client) AddToProfile(ctx context.Context, profileID, channelID int64) error {
	return c.do(ctx, http.MethodPatch,
		c.url(fmt.Sprintf("/api/channels/profiles/%d/channels/%d/", profileID, channelID)),
		map[string]any{"enabled": true}, nil)
}

// SetChannelEPG links a channel to one of the aggregator's EPG records.
func (c *Client) SetChannelEPG(ctx context.Context, channelID, epgDataID int64) error {
	return c.do(ctx, http.MethodPatch,
		c.url(fmt.Sprintf("/api/channels/channels/%d/", channelID)),
		map[string]any{"epg_data_id": epgDataID}, nil)
}

// epgDataJSON is one row of Dispatcharr's EPG index.
type epgDataJSON struct {
	ID    int64  `json:"id"`
	TVGID string `json:"tvg_id"`
}

// EPGLookup returns the aggregator's EPG index for one source, keyed by
// tvg-id.
func (c *Client) EPGLookup(ctx context.Context, sourceID int64) (map[string]lifecycle.EPGData, error) {
	out := make(map[string]lifecycle.EPGData)
	u := c.url("/api/epg/data/?epg_source=" + fmt.Sprint(sourceID))
	err := c.getList(ctx, u, func(raw json.RawMessage) error {
		var rows []epgDataJSON
		if err := json.Unmarshal(raw, &rows); err != nil {
			return err
		}
		for _, r := range rows {
			if r.TVGID == "" {
				continue
			}
			out[r.TVGID] = lifecycle.EPGData{ID: r.ID, TVGID: r.TVGID}
		}
		return nil
	})
	return out, err
}

// streamJSON is Dispatcharr's stream resource.
type streamJSON struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	ChannelGroup int64  `json:"channel_group"`
	M3UAccount   int64  `json:"m3u_account"`
	IsStale      bool   `json:"is_stale"`
}

// GroupStreams returns every stream in one aggregator channel group. This is
// the group processor's stream source.
func (c *Client) GroupStreams(ctx context.Context, groupID int64) ([]sports.Stream, error) {
	var out []sports.Stream
	u := c.url(fmt.Sprintf("/api/channels/streams/?channel_group=%d&page_size=500", groupID))
	err := c.getList(ctx, u, func(raw json.RawMessage) error {
		var rows []streamJSON
		if err := json.Unmarshal(raw, &rows); err != nil {
			return err
		}
		for _, r := range rows {
			out = append(out, sports.Stream{
				ID:        r.ID,
				Name:      r.Name,
				GroupID:   groupID,
				AccountID: r.M3UAccount,
				URL:       r.URL,
				Stale:     r.IsStale,
			})
		}
		return nil
	})
	return out, err
}

// m3uAccountJSON is one playlist account.
type m3uAccountJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// RefreshM3U triggers a playlist refresh on every M3U account. Failures are
// joined, not fatal per account, so one dead playlist does not block the
// rest.
func (c *Client) RefreshM3U(ctx context.Context) error {
	var accounts []m3uAccountJSON
	err := c.getList(ctx, c.url("/api/m3u/accounts/"), func(raw json.RawMessage) error {
		var rows []m3uAccountJSON
		if err := json.Unmarshal(raw, &rows); err != nil {
			return err
		}
		accounts = append(accounts, rows...)
		return nil
	})
	if err != nil {
		return err
	}
	var errs []error
	for _, a := range accounts {
		u := c.url(fmt.Sprintf("/api/m3u/accounts/%d/refresh/", a.ID))
		if err := c.do(ctx, http.MethodPost, u, nil, nil); err != nil {
			errs = append(errs, fmt.Errorf("account %d (%s): %w", a.ID, a.Name, err))
			continue
		}
		c.log.WithField("account", a.Name).Debug("playlist refresh triggered")
	}
	return errors.Join(errs...)
}

// RefreshEPGSource asks the aggregator to re-ingest one EPG source.
func (c *Client) RefreshEPGSource(ctx context.Context, sourceID int64) error {
	u := c.url(fmt.Sprintf("/api/epg/sources/%d/refresh/", sourceID))
	return c.do(ctx, http.MethodPost, u, nil, nil)
}

// logoJSON is an aggregator logo record.
type logoJSON struct {
	ID int64 `json:"id"`
}

// ensureLogo registers a logo URL with the aggregator, caching ids per URL.
// Logo failures are never fatal; the channel just goes without.
func (c *Client) ensureLogo(ctx context.Context, logoURL string) *int64 {
	if logoURL == "" {
		return nil
	}
	c.mu.Lock()
	if id, ok := c.logoCache[logoURL]; ok {
		c.mu.Unlock()
		return &id
	}
	c.mu.Unlock()

	// Logo URLs come straight from provider stream metadata; refuse
	// anything that is not plain http(s) before handing it to the gateway.
	u, err := url.Parse(logoURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil
	}
	name := logoURL
	if u.Path != "" {
		if i := strings.LastIndex(u.Path, "/"); i >= 0 && i+1 < len(u.Path) {
			name = u.Path[i+1:]
		}
	}
	var logo logoJSON
	err = c.do(ctx, http.MethodPost, c.url("/api/channels/logos/"),
		map[string]string{"name": name, "url": logoURL}, &logo)
	if err != nil || logo.ID == 0 {
		c.log.WithError(err).WithField("url", logoURL).Debug("logo registration failed")
		return nil
	}
	c.mu.Lock()
	c.logoCache[logoURL] = logo.ID
	c.mu.Unlock()
	return &logo.ID
}
