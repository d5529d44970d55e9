// Package mock implements a zero-cost, zero-network provider.Provider
// that synthesizes a deterministic PNG from the run's seeded random
// source: a self-registering Factory plus a Client that never leaves
// the process.
package mock

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"

	"github.com/zaugust4891/ad-image-generator/clockrand"
	"github.com/zaugust4891/ad-image-generator/provider"
)

const factoryName = "mock"

func init() {
	provider.MustRegister(factory{})
}

type factory struct{}

func (factory) Name() string { return factoryName }

func (factory) Create(opts ...provider.Option) (provider.Provider, error) {
	cfg := provider.Config{Width: 512, Height: 512, Seed: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 512, 512
	}
	return &Client{
		width:  cfg.Width,
		height: cfg.Height,
		cost:   cfg.PricePerImg,
		rng:    clockrand.NewSource(cfg.Seed),
	}, nil
}

// Client synthesizes an image.NRGBA filled from the run's random source
// and encodes it as PNG. It never touches the network and never fails
// except when the caller's context is already cancelled.
type Client struct {
	width, height int
	cost          float64
	rng           *clockrand.Source
}

func (c *Client) Name() string { return factoryName }

func (c *Client) Generate(ctx context.Context, prompt string, params provider.Params) (*provider.Result, error) {
	select {
	case <-ctx.Done():
		return nil, &provider.Failure{Kind: provider.Cancelled, Err: ctx.Err()}
	default:
	}

	w, h := c.width, c.height
	if params.Width > 0 {
		w = params.Width
	}
	if params.Height > 0 {
		h = params.Height
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rgb := make([]byte, w*h*3)
	c.rng.Read(rgb)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			img.Set(x, y, color.NRGBA{R: rgb[i], G: rgb[i+1], B: rgb[i+2], A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, &provider.Failure{Kind: provider.Permanent, Err: err}
	}

	return &provider.Result{PNG: buf.Bytes(), Cost: c.cost}, nil
}
