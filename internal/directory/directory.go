// Package directory resolves anchor MAC addresses to their surveyed
// positions via the deployment's configuration API. It is used once per
// anchor, at bootstrap; the estimation core never talks to it.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/banshee-data/beacon.report/internal/anchor"
	"github.com/banshee-data/beacon.report/internal/geom"
	"github.com/banshee-data/beacon.report/internal/monitoring"
	"github.com/banshee-data/beacon.report/internal/pathloss"
)

// ErrNotFound is returned when the directory has no record for a MAC.
var ErrNotFound = errors.New("anchor not found in directory")

// Client queries the anchor directory over HTTP with basic auth.
type Client struct {
	baseURL  string
	username string
	password string
	hc       *http.Client
}

// NewClient returns a directory client rooted at baseURL (e.g.
// "https://ils.example.com/confv1/api"). The timeout bounds each
// lookup end to end.
func NewClient(baseURL, username, password string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		hc:       &http.Client{Timeout: timeout},
	}
}

// dongleRecord is the directory's wire format for one anchor. The API
// returns an array with at most one element per MAC query.
type dongleRecord struct {
	MacAddress string  `json:"macAddress"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
}

// Resolve looks up one anchor's surveyed position.
func (c *Client) Resolve(ctx context.Context, mac string) (geom.Point, error) {
	reqURL := fmt.Sprintf("%s/dongles?macAddress=%s", c.baseURL, url.QueryEscape(mac))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return geom.Point{}, fmt.Errorf("failed to build directory request: %w", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return geom.Point{}, fmt.Errorf("directory lookup for %s failed: %w", mac, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return geom.Point{}, fmt.Errorf("directory lookup for %s: status %d: %s", mac, resp.StatusCode, body)
	}

	var records []dongleRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return geom.Point{}, fmt.Errorf("failed to decode directory response for %s: %w", mac, err)
	}
	if len(records) == 0 {
		return geom.Point{}, fmt.Errorf("%w: %s", ErrNotFound, mac)
	}

	r := records[0]
	return geom.Point{X: r.X, Y: r.Y, Z: r.Z}, nil
}

// Bootstrap resolves each MAC and registers a fresh anchor for it,
// skipping MACs the registry already knows. Lookup failures are logged
// and aggregated; anchors that did resolve are still registered, so a
// single unknown MAC does not stall the pipeline.
func (c *Client) Bootstrap(ctx context.Context, reg *anchor.Registry, model pathloss.Model, macs []string) error {
	var errs []error
	for _, mac := range macs {
		if reg.Has(mac) {
			continue
		}
		pos, err := c.Resolve(ctx, mac)
		if err != nil {
			monitoring.Logf("directory: skipping anchor %s: %v", mac, err)
			errs = append(errs, err)
			continue
		}
		reg.Add(anchor.New(mac, pos, model))
		monitoring.Logf("directory: registered anchor %s at (%.2f, %.2f, %.2f)", mac, pos.X, pos.Y, pos.Z)
	}
	return errors.Join(errs...)
}
