// Package bitrate implements the bitrate controller: once per statistics
// window it turns an observed NACK rate
// into a new target bitrate via a piecewise policy table, tracks a
// "working" bitrate (the highest recently-sustained rate) that the target
// converges toward on recovery, and dampens oscillation with a per-bucket
// loss history.
//
// Grounded on rustyguts-bken/client/internal/adapt/adapt.go: NextBitrate's
// loss/RTT-driven ladder step is generalized here from a fixed Opus ladder
// to a continuous piecewise multiplier policy, and SmoothLoss's EWMA
// smoothing is reused verbatim (same formula, same 0.3 reference alpha)
// for the per-bucket history.
package bitrate

import (
	"math"
	"time"
)

// Policy window and tuning defaults.
const (
	DefaultWindow               = 3 * time.Second
	DefaultReconfigureThreshold = 0.05
	// DefaultSmoothingAlpha mirrors adapt.SmoothLoss's reference alpha.
	DefaultSmoothingAlpha = 0.3
	// BucketWidth quantizes target bitrates (bps) into histogram buckets.
	BucketWidth = 250_000
)

// Config bounds and tunes the controller.
type Config struct {
	Minimum              int64
	Maximum              int64
	Window               time.Duration
	ReconfigureThreshold float64
	SmoothingAlpha       float64
}

// DefaultConfig matches the reference constants, clamped to a 1-20 Mbps
// video range.
func DefaultConfig() Config {
	return Config{
		Minimum:              1_000_000,
		Maximum:              20_000_000,
		Window:               DefaultWindow,
		ReconfigureThreshold: DefaultReconfigureThreshold,
		SmoothingAlpha:       DefaultSmoothingAlpha,
	}
}

// Result is the outcome of one statistics-window evaluation.
type Result struct {
	Target      int64
	Working     int64
	Reconfigure bool
}

// Controller holds the running target/working bitrate state and the
// per-bucket loss history used to dampen oscillation.
type Controller struct {
	cfg Config

	target  int64
	working int64

	// history maps a bitrate bucket to its smoothed NACKs/s, so a rung
	// that recently caused trouble resists being re-climbed immediately.
	history map[int64]float64
}

// New builds a controller with the given initial target, clamped to
// [cfg.Minimum, cfg.Maximum].
func New(cfg Config, initialTarget int64) *Controller {
	t := clamp(initialTarget, cfg)
	return &Controller{cfg: cfg, target: t, working: t, history: make(map[int64]float64)}
}

// Target returns the current target bitrate in bits per second.
func (c *Controller) Target() int64 { return c.target }

// Working returns the current working bitrate in bits per second.
func (c *Controller) Working() int64 { return c.working }

// Evaluate runs one statistics-window update: nackCount NACKs were
// observed over elapsed wall-clock time, and the result is the new
// target/working bitrate plus whether the encoder should be reconfigured.
func (c *Controller) Evaluate(nackCount int, elapsed time.Duration) Result {
	if elapsed <= 0 {
		elapsed = c.cfg.Window
	}
	rate := float64(nackCount) / elapsed.Seconds()

	oldTarget := c.target
	oldBucket := bucketOf(oldTarget)
	c.history[oldBucket] = smoothLoss(c.history[oldBucket], rate, c.cfg.SmoothingAlpha)

	var newTarget int64
	switch {
	case rate > 50:
		newTarget = scale(c.target, 0.75)
		c.working = newTarget
	case rate > 25:
		newTarget = scale(c.target, 0.83)
		c.working = newTarget
	case rate > 15:
		newTarget = scale(c.target, 0.90)
		c.working = newTarget
	case rate > 10:
		newTarget = scale(c.target, 0.95)
		c.working = newTarget
	case rate > 6:
		newTarget = scale(c.target, 0.98)
		c.working = newTarget
	default:
		newTarget = (c.target + c.working) / 2
		candidateWorking := scale(newTarget, 1.05)
		if candidateWorking > c.working {
			// Only climb into a bucket whose own history isn't itself
			// troubled; otherwise hold working where it is and let target
			// alone recover toward it.
			if c.history[bucketOf(candidateWorking)] <= 6 {
				c.working = candidateWorking
			}
		}
	}

	newTarget = clamp(newTarget, c.cfg)
	c.target = newTarget
	if c.working < c.cfg.Minimum {
		c.working = c.cfg.Minimum
	}

	changeFrac := 0.0
	if oldTarget != 0 {
		changeFrac = math.Abs(float64(newTarget-oldTarget)) / float64(oldTarget)
	}

	return Result{
		Target:      c.target,
		Working:     c.working,
		Reconfigure: changeFrac > c.cfg.ReconfigureThreshold,
	}
}

func scale(bps int64, mult float64) int64 {
	return int64(float64(bps) * mult)
}

func clamp(v int64, cfg Config) int64 {
	if v < cfg.Minimum {
		return cfg.Minimum
	}
	if v > cfg.Maximum {
		return cfg.Maximum
	}
	return v
}

func bucketOf(bps int64) int64 {
	return (bps / BucketWidth) * BucketWidth
}

// smoothLoss is adapt.SmoothLoss, unchanged: EWMA smoothing of a raw
// sample against the previously smoothed value.
func smoothLoss(smoothed, raw, alpha float64) float64 {
	return alpha*raw + (1-alpha)*smoothed
}
