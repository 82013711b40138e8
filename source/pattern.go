// Package source produces synthetic frames for the broadcaster when no
// acquisition pipeline is attached.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"socketstream-server/config"
)

type FrameSink interface {
	Broadcast(payload []byte, width, height uint16, bitDepth uint8) error
}

// Pattern renders a moving diagonal gradient into one buffer that it
// reuses for every frame, the way an acquisition ring buffer would.
type Pattern struct {
	sink     FrameSink
	width    int
	height   int
	bitDepth int
	interval time.Duration
	buf      []byte
	frame    int
}

func NewPattern(sink FrameSink, cfg config.Pattern) (*Pattern, error) {
	if cfg.Width <= 0 || cfg.Width > 0xFFFF || cfg.Height <= 0 || cfg.Height > 0xFFFF {
		return nil, fmt.Errorf("pattern: invalid size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.BitDepth <= 0 || cfg.BitDepth > 32 {
		return nil, fmt.Errorf("pattern: invalid bit depth %d", cfg.BitDepth)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("pattern: invalid fps %d", cfg.FPS)
	}

	return &Pattern{
		sink:     sink,
		width:    cfg.Width,
		height:   cfg.Height,
		bitDepth: cfg.BitDepth,
		interval: time.Second / time.Duration(cfg.FPS),
		buf:      make([]byte, cfg.Width*cfg.Height*BytesPerSample(cfg.BitDepth)),
	}, nil
}

func BytesPerSample(bitDepth int) int {
	return (bitDepth + 7) / 8
}

// Run emits frames until ctx is cancelled.
func (p *Pattern) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.Info("test pattern running", "width", p.width, "height", p.height, "bitDepth", p.bitDepth, "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Emit(); err != nil {
				slog.Warn("frame dropped", "frame", p.frame, "error", err)
			}
		}
	}
}

// Emit renders the next frame and hands it to the sink.
func (p *Pattern) Emit() error {
	p.render()
	p.frame++
	return p.sink.Broadcast(p.buf, uint16(p.width), uint16(p.height), uint8(p.bitDepth))
}

func (p *Pattern) render() {
	bps := BytesPerSample(p.bitDepth)
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			v := byte(x + y + p.frame)
			off := (y*p.width + x) * bps
			// Samples are written big-endian; only the high byte varies.
			p.buf[off] = v
			for i := 1; i < bps; i++ {
				p.buf[off+i] = 0
			}
		}
	}
}
