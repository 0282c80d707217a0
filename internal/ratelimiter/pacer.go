package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/carepulse/notify/internal/domain"
)

// ChannelPacer holds one token bucket per channel, pacing calls to the
// upstream providers. Burst equals the rate so no capacity is saved up
// beyond the configured per-second maximum.
type ChannelPacer struct {
	limiters map[domain.Channel]*rate.Limiter
}

// NewChannelPacer creates a pacer allowing ratePerSec sends per second per
// channel.
func NewChannelPacer(ratePerSec int) *ChannelPacer {
	r := rate.Limit(ratePerSec)
	burst := ratePerSec

	limiters := make(map[domain.Channel]*rate.Limiter, 6)
	for _, ch := range []domain.Channel{
		domain.ChannelEmail, domain.ChannelSMS, domain.ChannelPush,
		domain.ChannelWebhook, domain.ChannelSlack, domain.ChannelInApp,
	} {
		limiters[ch] = rate.NewLimiter(r, burst)
	}
	return &ChannelPacer{limiters: limiters}
}

// Wait blocks until the channel's bucket grants a token. Returns a non-nil
// error only if ctx is cancelled while waiting.
func (p *ChannelPacer) Wait(ctx context.Context, ch domain.Channel) error {
	return p.limiters[ch].Wait(ctx)
}
