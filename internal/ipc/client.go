package ipc

import (
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

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// Apply runs a pass immediately and waits for its result.
func (c *Client) Apply() (*ApplyResponse, error) {
	return call[ApplyResponse](c, "Apply", ApplyRequest{})
}

// Buses lists live managed buses.
func (c *Client) Buses() (*BusesResponse, error) {
	return call[BusesResponse](c, "Buses", BusesRequest{})
}

// Streams lists live playback streams.
func (c *Client) Streams() (*StreamsResponse, error) {
	return call[StreamsResponse](c, "Streams", StreamsRequest{})
}

// MoveStream moves a stream to sink.
func (c *Client) MoveStream(streamID uint32, sink string) (*MoveStreamResponse, error) {
	return call[MoveStreamResponse](c, "MoveStream", MoveStreamRequest{StreamID: streamID, Sink: sink})
}

// SetVolume sets a bus volume until the routing file next reloads.
func (c *Client) SetVolume(bus string, volume int) (*SetVolumeResponse, error) {
	return call[SetVolumeResponse](c, "SetVolume", SetVolumeRequest{Bus: bus, Volume: volume})
}

// SetMute sets a bus mute flag until the routing file next reloads.
func (c *Client) SetMute(bus string, mute bool) (*SetMuteResponse, error) {
	return call[SetMuteResponse](c, "SetMute", SetMuteRequest{Bus: bus, Mute: mute})
}

// History returns recent passes, newest first.
func (c *Client) History(limit int) (*HistoryResponse, error) {
	return call[HistoryResponse](c, "History", HistoryRequest{Limit: limit})
}

// Stop asks the daemon to exit.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{})
}
