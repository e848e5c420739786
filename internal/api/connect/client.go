package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client is a typed client for the ControlService.
type Client struct {
	getStatus      *connect.Client[EmptyRequest, StatusResponse]
	actions        map[string]*connect.Client[EmptyRequest, ActionResponse]
	switchMode     *connect.Client[PhaseRequest, ActionResponse]
	addMedia       *connect.Client[AddMediaRequest, AddMediaResponse]
	shuffle        *connect.Client[PhaseRequest, ActionResponse]
	resetPlaylist  *connect.Client[PhaseRequest, ActionResponse]
	updateSettings *connect.Client[UpdateSettingsRequest, ActionResponse]
	seek           *connect.Client[SeekRequest, ActionResponse]
	watchEvents    *connect.Client[EmptyRequest, EventMessage]
}

// NewClient creates a client for the service at baseURL. A non-empty token
// is sent with every call.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(&tokenInterceptor{token: token}),
	}, opts...)

	actions := make(map[string]*connect.Client[EmptyRequest, ActionResponse])
	for _, procedure := range []string{
		StartProcedure,
		PauseProcedure,
		ToggleProcedure,
		ResetProcedure,
		SkipForwardProcedure,
		SkipBackProcedure,
	} {
		actions[procedure] = connect.NewClient[EmptyRequest, ActionResponse](httpClient, baseURL+procedure, opts...)
	}

	return &Client{
		getStatus:      connect.NewClient[EmptyRequest, StatusResponse](httpClient, baseURL+GetStatusProcedure, opts...),
		actions:        actions,
		switchMode:     connect.NewClient[PhaseRequest, ActionResponse](httpClient, baseURL+SwitchModeProcedure, opts...),
		addMedia:       connect.NewClient[AddMediaRequest, AddMediaResponse](httpClient, baseURL+AddMediaProcedure, opts...),
		shuffle:        connect.NewClient[PhaseRequest, ActionResponse](httpClient, baseURL+ShuffleProcedure, opts...),
		resetPlaylist:  connect.NewClient[PhaseRequest, ActionResponse](httpClient, baseURL+ResetPlaylistProcedure, opts...),
		updateSettings: connect.NewClient[UpdateSettingsRequest, ActionResponse](httpClient, baseURL+UpdateSettingsProcedure, opts...),
		seek:           connect.NewClient[SeekRequest, ActionResponse](httpClient, baseURL+SeekProcedure, opts...),
		watchEvents:    connect.NewClient[EmptyRequest, EventMessage](httpClient, baseURL+WatchEventsProcedure, opts...),
	}
}

func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	resp, err := c.getStatus.CallUnary(ctx, connect.NewRequest(&EmptyRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) Start(ctx context.Context) (*ActionResponse, error) {
	return c.action(ctx, StartProcedure)
}

func (c *Client) Pause(ctx context.Context) (*ActionResponse, error) {
	return c.action(ctx, PauseProcedure)
}

func (c *Client) Toggle(ctx context.Context) (*ActionResponse, error) {
	return c.action(ctx, ToggleProcedure)
}

func (c *Client) Reset(ctx context.Context) (*ActionResponse, error) {
	return c.action(ctx, ResetProcedure)
}

func (c *Client) SkipForward(ctx context.Context) (*ActionResponse, error) {
	return c.action(ctx, SkipForwardProcedure)
}

func (c *Client) SkipBack(ctx context.Context) (*ActionResponse, error) {
	return c.action(ctx, SkipBackProcedure)
}

func (c *Client) SwitchMode(ctx context.Context, phase string) (*ActionResponse, error) {
	resp, err := c.switchMode.CallUnary(ctx, connect.NewRequest(&PhaseRequest{Phase: phase}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) AddMedia(ctx context.Context, req *AddMediaRequest) (*AddMediaResponse, error) {
	resp, err := c.addMedia.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) Shuffle(ctx context.Context, phase string) (*ActionResponse, error) {
	resp, err := c.shuffle.CallUnary(ctx, connect.NewRequest(&PhaseRequest{Phase: phase}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) ResetPlaylist(ctx context.Context, phase string) (*ActionResponse, error) {
	resp, err := c.resetPlaylist.CallUnary(ctx, connect.NewRequest(&PhaseRequest{Phase: phase}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) UpdateSettings(ctx context.Context, req *UpdateSettingsRequest) (*ActionResponse, error) {
	resp, err := c.updateSettings.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) SeekRelative(ctx context.Context, deltaMs int64) (*ActionResponse, error) {
	resp, err := c.seek.CallUnary(ctx, connect.NewRequest(&SeekRequest{DeltaMs: deltaMs}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// WatchEvents opens the event stream. The caller must Close it.
func (c *Client) WatchEvents(ctx context.Context) (*connect.ServerStreamForClient[EventMessage], error) {
	return c.watchEvents.CallServerStream(ctx, connect.NewRequest(&EmptyRequest{}))
}

func (c *Client) action(ctx context.Context, procedure string) (*ActionResponse, error) {
	resp, err := c.actions[procedure].CallUnary(ctx, connect.NewRequest(&EmptyRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
