package comfortcloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/climate"
)

// DeviceMapper translates between the vendor parameter payload and the
// normalized climate model. Implementations must be pure functions of their
// input; the default one lives in internal/devicemap.
type DeviceMapper interface {
	DecodeState(raw json.RawMessage) (climate.State, error)
	EncodeState(state climate.State) (json.RawMessage, error)
}

// ClientConfig assembles a Client.
type ClientConfig struct {
	// BaseURL overrides the production endpoint, mainly for tests.
	BaseURL string
	// AppVersion overrides the X-APP-VERSION header when Panasonic retires
	// the default.
	AppVersion string
	// LoginID and Password are used when no stored session exists and when
	// the refresh token is rejected. Leaving them empty is fine as long as
	// the store already holds a session.
	LoginID  string
	Password string
	// HTTPTimeout is the transport ceiling per call.
	HTTPTimeout time.Duration

	Gate  GateConfig
	Retry RetryConfig

	Store  SessionStore
	Mapper DeviceMapper
	Logger *slog.Logger
}

// Client is the access layer for one Comfort Cloud account: session
// handling, the rate-gated request pipeline, and the device operations built
// on top of them. All methods are safe for concurrent use.
type Client struct {
	pipeline *Pipeline
	sessions *SessionManager
	mapper   DeviceMapper
	logger   *slog.Logger

	mu        sync.RWMutex
	snapshots map[string]climate.State // device GUID -> last full state
}

func NewClient(config ClientConfig) (*Client, error) {
	if config.Store == nil {
		return nil, errors.New("comfortcloud: session store is required")
	}
	if config.Mapper == nil {
		return nil, errors.New("comfortcloud: device mapper is required")
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("comfortcloud: invalid base URL %q: %w", baseURL, err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gate := NewGate(config.Gate)
	pipeline := newPipeline(baseURL, config.AppVersion, config.HTTPTimeout, gate, config.Retry, logger)
	sessions := NewSessionManager(pipeline, config.Store,
		AccountCredentials{LoginID: config.LoginID, Password: config.Password}, logger)
	pipeline.tokens = sessions

	return &Client{
		pipeline:  pipeline,
		sessions:  sessions,
		mapper:    config.Mapper,
		logger:    logger.With("component", "client"),
		snapshots: make(map[string]climate.State),
	}, nil
}

// Login authenticates with the given account and persists the session.
func (c *Client) Login(ctx context.Context, loginID, password string) error {
	_, err := c.sessions.Login(ctx, loginID, password)
	return err
}

// Logout drops the session from memory and the store.
func (c *Client) Logout(ctx context.Context) {
	c.sessions.Logout(ctx)
}

// RefreshSession forces a token refresh regardless of remaining lifetime.
func (c *Client) RefreshSession(ctx context.Context) error {
	_, err := c.sessions.ForceRefresh(ctx, "")
	return err
}

// CurrentSession returns a copy of the cached session, or nil when logged
// out.
func (c *Client) CurrentSession(ctx context.Context) *Session {
	return c.sessions.Current(ctx)
}

// QueueStats reports how many operations wait at the admission gate and how
// many are in flight.
func (c *Client) QueueStats() (waiting, inflight int) {
	return c.pipeline.gate.Stats()
}

// Devices lists every appliance registered to the account, flattened across
// device groups.
func (c *Client) Devices(ctx context.Context) ([]climate.Device, error) {
	var resp deviceGroupResponse
	req := Request{
		Method:       http.MethodGet,
		Path:         "/device/group",
		RequiresAuth: true,
	}
	if err := c.pipeline.DoJSON(ctx, req, &resp); err != nil {
		return nil, err
	}

	var devices []climate.Device
	for _, group := range resp.GroupList {
		for _, entry := range group.DeviceList {
			devices = append(devices, climate.Device{
				GUID:  entry.DeviceGUID,
				Name:  entry.DeviceName,
				Group: group.GroupName,
				Model: entry.ModuleNumber,
				Type:  entry.DeviceType,
			})
		}
	}
	c.logger.Debug("device listing fetched", "groups", len(resp.GroupList), "devices", len(devices))
	return devices, nil
}

// DeviceState fetches the current state of one device and refreshes the
// snapshot cache.
func (c *Client) DeviceState(ctx context.Context, deviceGUID string) (climate.State, error) {
	var resp deviceStatusResponse
	req := Request{
		Method:       http.MethodGet,
		Path:         "/deviceStatus/" + url.PathEscape(deviceGUID),
		RequiresAuth: true,
	}
	if err := c.pipeline.DoJSON(ctx, req, &resp); err != nil {
		return climate.State{}, err
	}
	state, err := c.mapper.DecodeState(resp.Parameters)
	if err != nil {
		return climate.State{}, fmt.Errorf("%w: decode device state: %v", ErrRequestFailed, err)
	}
	c.rememberState(deviceGUID, state)
	return state, nil
}

// SetDeviceState applies a partial command to a device. Fields the command
// leaves unset are filled from the last known full state, because the vendor
// API expects a complete parameter block and would otherwise reset them.
// The write is followed by a fresh read so the caller observes what the
// device actually accepted.
func (c *Client) SetDeviceState(ctx context.Context, deviceGUID string, cmd climate.Command) (climate.State, error) {
	if err := cmd.Validate(); err != nil {
		return climate.State{}, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	base, ok := c.snapshot(deviceGUID)
	if !ok {
		fresh, err := c.DeviceState(ctx, deviceGUID)
		if err != nil {
			return climate.State{}, fmt.Errorf("read state before write: %w", err)
		}
		base = fresh
	}

	merged := cmd.ApplyTo(base)
	parameters, err := c.mapper.EncodeState(merged)
	if err != nil {
		return climate.State{}, fmt.Errorf("%w: encode device state: %v", ErrRequestFailed, err)
	}

	req := Request{
		Method:       http.MethodPost,
		Path:         "/deviceStatus/control",
		Body:         controlRequest{DeviceGUID: deviceGUID, Parameters: parameters},
		RequiresAuth: true,
	}
	if err := c.pipeline.DoJSON(ctx, req, nil); err != nil {
		return climate.State{}, err
	}

	// Reconcile with what the device reports after the write; some units
	// clamp or ignore parts of a command.
	fresh, err := c.DeviceState(ctx, deviceGUID)
	if err != nil {
		c.logger.Warn("reconcile read after write failed, assuming command applied",
			"device", deviceGUID, "error", err)
		c.rememberState(deviceGUID, merged)
		return merged, nil
	}
	return fresh, nil
}

func (c *Client) snapshot(deviceGUID string) (climate.State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.snapshots[deviceGUID]
	return state, ok
}

func (c *Client) rememberState(deviceGUID string, state climate.State) {
	c.mu.Lock()
	c.snapshots[deviceGUID] = state
	c.mu.Unlock()
}
