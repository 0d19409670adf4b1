package client

import (
	"math/rand"

	"netthrpt/internal/flow"
	"netthrpt/internal/pacer"
	"netthrpt/internal/wire"
)

// udpPayloadMinimum is the smallest datagram payload the isochronous burst
// sizer will produce.
const udpPayloadMinimum = 1

// burstSizer computes per-burst byte counts for the isochronous and
// periodic burst models.
type burstSizer struct {
	settings   flow.Settings
	headerLen  int
	rnd        *rand.Rand
}

func newBurstSizer(s flow.Settings, headerLen int, seed int64) *burstSizer {
	return &burstSizer{settings: s, headerLen: headerLen, rnd: rand.New(rand.NewSource(seed))}
}

// Size returns the byte count for the next burst.
func (b *burstSizer) Size() int {
	switch b.settings.Burst {
	case flow.BurstIsochronous:
		bytes := int(pacer.Lognormal(b.rnd, b.settings.Mean, b.settings.Variance) / (b.settings.FPS * 8))
		min := udpPayloadMinimum
		if b.settings.Proto == flow.Stream {
			min = wire.BurstHeaderLen
		}
		if bytes < min {
			bytes = min
		}
		return bytes
	case flow.BurstPeriodic:
		if b.settings.BurstSize > 0 {
			return b.settings.BurstSize
		}
		return b.settings.BufLen
	default:
		return b.settings.BufLen
	}
}
