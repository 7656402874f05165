package zoneminder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/url"
	"strconv"

	// Decoders for the snapshot formats the host serves.
	_ "image/jpeg"
	_ "image/png"
)

// FrameSource pulls single snapshots of one monitor.
type FrameSource struct {
	client    *Client
	monitorID int
}

// Frames returns a frame source for monitorID.
func (c *Client) Frames(monitorID int) *FrameSource {
	return &FrameSource{client: c, monitorID: monitorID}
}

// Snapshot fetches and decodes the monitor's current frame.
func (c *Client) Snapshot(ctx context.Context, monitorID int) (image.Image, error) {
	query := url.Values{
		"mode":    {"single"},
		"monitor": {strconv.Itoa(monitorID)},
	}
	data, err := c.get(ctx, "cgi-bin/nph-zms", query)
	if err != nil {
		return nil, fmt.Errorf("snapshot of monitor %d: %w", monitorID, err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: monitor %d: %w", ErrDecodeFrame, monitorID, err)
	}
	return img, nil
}

// Next blocks until the next frame is available.
func (f *FrameSource) Next(ctx context.Context) (image.Image, error) {
	return f.client.Snapshot(ctx, f.monitorID)
}

// IsIdle reports whether the monitor stopped recording.
func (f *FrameSource) IsIdle(ctx context.Context) (bool, error) {
	return f.client.IsIdle(ctx, f.monitorID)
}
