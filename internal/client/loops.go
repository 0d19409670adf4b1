package client

import (
	"context"
	"math"
	"time"

	"netthrpt/internal/clock"
	"netthrpt/internal/flow"
	"netthrpt/internal/frame"
	"netthrpt/internal/pacer"
	"netthrpt/internal/record"
	"netthrpt/internal/wire"
)

// datagramMinSleep and isochInnerMinSleep are the minimum accumulated
// running-delay worth sleeping for.
const (
	datagramMinSleep  = 100 * time.Microsecond
	isochInnerMinSleep = 1 * time.Microsecond
)

// runSelectedLoop dispatches to one of the five transmit loops, chosen from
// the flow's protocol and feature flags.
func (c *Client) runSelectedLoop(ctx context.Context) error {
	if c.Settings.Proto == flow.Datagram {
		if c.Settings.Burst == flow.BurstIsochronous {
			return c.datagramIsochronousLoop(ctx)
		}
		return c.datagramUnratedLoop(ctx)
	}

	switch {
	case c.Settings.Features.NearCongestion:
		return c.streamNearCongestionLoop(ctx)
	case c.Settings.Features.WritePrefetch:
		return c.streamWriteEventsLoop(ctx)
	case c.Settings.Rate > 0 && c.Settings.RateUnits == flow.UnitsBandwidth:
		return c.streamRateLimitedLoop(ctx)
	default:
		return c.streamUnratedLoop(ctx)
	}
}

// nextPacketID returns the next strictly increasing packet id for this
// flow.
func (c *Client) nextPacketID() int64 {
	c.packetID++
	return c.packetID
}

// stampBurstHeader overwrites the front of buf with a burst header when the
// flow is in burst mode.
func (c *Client) stampBurstHeader(buf []byte, seqLower int64, n int) {
	if c.Settings.Burst == flow.BurstNone || len(buf) < wire.BurstHeaderLen {
		return
	}
	c.burstID++
	now := time.Now()
	stamp := clock.ToStamp(c.startTime)
	write := clock.ToStamp(now)
	h := wire.BurstHeader{
		StartTVSec: uint32(stamp.Sec), StartTVUsec: uint32(stamp.Usec),
		SeqNoLower: uint32(seqLower), SeqNoUpper: uint32(seqLower >> 32),
		WriteTVSec: uint32(write.Sec), WriteTVUsec: uint32(write.Usec),
		BurstID:      c.burstID,
		BurstSize:    uint32(n),
		BurstPeriodS: uint32(1 / c.Settings.FPS),
	}
	copy(buf, h.Encode())
}

// pushRecord hands a completed I/O attempt to the Ring for the Reporter.
func (c *Client) pushRecord(r record.Record) {
	if c.Ring == nil {
		return
	}
	c.Ring.Push(r)
}

// streamUnratedLoop writes as fast as the socket accepts writes.
func (c *Client) streamUnratedLoop(ctx context.Context) error {
	for c.inProgress(ctx) {
		if err := c.writeOnce(); err != nil {
			return err
		}
	}
	return nil
}

// streamRateLimitedLoop paces writes with a TokenBucket.
func (c *Client) streamRateLimitedLoop(ctx context.Context) error {
	variance := c.Settings.Variance
	bucket := pacer.NewTokenBucket(c.Settings.Rate, variance, c.Settings.VaryLoad)

	for c.inProgress(ctx) {
		bucket.Tick(time.Now())
		for !bucket.Allowed() {
			clock.SleepFor(bucket.RetryDelay())
			if !c.inProgress(ctx) {
				return nil
			}
			bucket.Tick(time.Now())
		}
		n, err := c.writeOnceReturn()
		if err != nil {
			return err
		}
		bucket.Consume(n)
	}
	return nil
}

// streamNearCongestionLoop writes then sleeps for ceil(rtt*divider), using
// the write call's own latency as an RTT proxy in the absence of a kernel
// tcp_info accessor.
func (c *Client) streamNearCongestionLoop(ctx context.Context) error {
	divider := c.Settings.Features.RTTDivider
	if divider <= 0 {
		divider = 1
	}
	for c.inProgress(ctx) {
		start := time.Now()
		if err := c.writeOnce(); err != nil {
			return err
		}
		rtt := time.Since(start)
		sleep := time.Duration(math.Ceil(float64(rtt) * divider))
		clock.SleepFor(sleep)
	}
	return nil
}

// streamWriteEventsLoop bounds each write by the socket send timeout,
// standing in for a writable-event wait on a non-blocking socket.
func (c *Client) streamWriteEventsLoop(ctx context.Context) error {
	for c.inProgress(ctx) {
		c.Conn.SetWriteDeadline(time.Now().Add(c.sendTimeout))
		err := c.writeOnce()
		c.Conn.SetWriteDeadline(time.Time{})
		if err != nil {
			return err
		}
	}
	return nil
}

// writeOnce performs one stream write of a full payload buffer, classifying
// the result and pushing a Record. Non-fatal/no-account errors are retried
// by the caller's loop condition; fatal errors are returned.
func (c *Client) writeOnce() error {
	_, err := c.writeOnceReturn()
	return err
}

func (c *Client) writeOnceReturn() (int, error) {
	id := c.nextPacketID()
	buf := c.payload
	if c.Settings.Burst != flow.BurstNone {
		c.stampBurstHeader(buf, id, len(buf))
		// The next burst's id starts right after this burst's byte range.
		c.packetID += int64(len(buf)) - 1
	}

	n, werr := c.Conn.Write(buf)
	status := classifyWriteErr(werr)

	rec := record.Record{
		JobID:      c.Settings.JobID,
		PacketID:   id,
		PacketLen:  n,
		PacketTime: time.Now(),
		ErrorStatus: status,
	}
	c.pushRecord(rec)

	switch status {
	case record.StatusOK, record.StatusAcctErr:
		c.bytesSent += int64(n)
		return n, nil
	case record.StatusNoAcctErr:
		return 0, nil
	default:
		return 0, werr
	}
}

// datagramUnratedLoop paces with the running-delay pacer at the flow's
// target rate.
func (c *Client) datagramUnratedLoop(ctx context.Context) error {
	ipg := targetIPGNanos(c.Settings)
	rd := &pacer.RunningDelay{
		TargetIPG:        ipg,
		LowerBound:       -c.sendTimeout.Nanoseconds() / 2,
		ClampOnUnderflow: true,
	}
	rd.Reset()

	for c.inProgress(ctx) {
		now := time.Now()
		if err := c.writeDatagramOnce(now, 0); err != nil {
			return err
		}
		rd.Record(now.UnixMicro(), true)
		if rd.ShouldSleep(datagramMinSleep) {
			clock.SleepFor(rd.Delay())
		}
	}
	return c.sendDatagramTerminator()
}

// datagramIsochronousLoop sends one burst per frame boundary: a
// frame.Counter provides the outer tick, and a non-clamping RunningDelay
// paces the datagrams within a burst so a slow burst catches up as quickly
// as possible rather than resetting.
func (c *Client) datagramIsochronousLoop(ctx context.Context) error {
	sizer := newBurstSizer(c.Settings, wire.DatagramHeaderLen12+wire.IsochPayloadLen, time.Now().UnixNano())
	fc := frame.New(c.Settings.FPS, c.Settings.Features.TxEpochStart)
	ipg := targetIPGNanos(c.Settings)

	for c.inProgress(ctx) {
		frameID, err := fc.WaitTick(ctx)
		if err != nil {
			break
		}

		remaining := sizer.Size()
		rd := &pacer.RunningDelay{TargetIPG: ipg}
		rd.Reset()

		for remaining > 0 && c.inProgress(ctx) {
			now := time.Now()
			if err := c.writeDatagramOnce(now, frameID); err != nil {
				return err
			}
			remaining -= len(c.payload)
			rd.Record(now.UnixMicro(), true)
			if rd.ShouldSleep(isochInnerMinSleep) {
				clock.SleepFor(rd.Delay())
			}
		}
	}
	return c.sendDatagramTerminator()
}

// targetIPGNanos derives the nominal inter-packet gap from the flow's
// requested rate and payload size.
func targetIPGNanos(s flow.Settings) int64 {
	if s.Rate <= 0 {
		return 0
	}
	bitsPerPacket := float64(s.BufLen) * 8
	return int64(bitsPerPacket / s.Rate * 1e9)
}

// writeDatagramOnce stamps and writes one datagram, pushing its Record.
func (c *Client) writeDatagramOnce(now time.Time, frameID int64) error {
	id := c.nextPacketID()
	buf := append([]byte(nil), c.payload...)

	stamp := clock.ToStamp(now)
	dh := wire.DatagramHeader{
		SeqNoLow: int32(id), TVSec: uint32(stamp.Sec), TVUsec: uint32(stamp.Usec),
		SeqNo64: c.Settings.Features.SeqNo64,
	}
	copy(buf, dh.Encode())

	if c.Settings.Burst == flow.BurstIsochronous {
		ih := wire.IsochPayloadHeader{FrameID: uint32(frameID)}
		off := wire.DatagramHeaderLen12
		if c.Settings.Features.SeqNo64 {
			off = wire.DatagramHeaderLen24
		}
		if len(buf) >= off+wire.IsochPayloadLen {
			copy(buf[off:], ih.Encode())
		}
	}

	n, werr := c.Conn.Write(buf)
	status := classifyWriteErr(werr)
	rec := record.Record{
		JobID: c.Settings.JobID, PacketID: id, PacketLen: n,
		PacketTime: now, ErrorStatus: status, FrameID: frameID,
	}
	c.pushRecord(rec)

	switch status {
	case record.StatusOK, record.StatusAcctErr:
		c.bytesSent += int64(n)
		return nil
	case record.StatusNoAcctErr:
		return nil
	default:
		return werr
	}
}

// sendDatagramTerminator writes the final negated-id datagram that signals
// the receiver to stop, unless NoUDPFin disables it.
func (c *Client) sendDatagramTerminator() error {
	if c.Settings.Features.NoUDPFin {
		return nil
	}
	id := -c.packetID
	stamp := clock.ToStamp(time.Now())
	dh := wire.DatagramHeader{SeqNoLow: int32(id), TVSec: uint32(stamp.Sec), TVUsec: uint32(stamp.Usec)}
	buf := dh.Encode()
	_, err := c.Conn.Write(buf)
	if err != nil {
		return nil // best-effort; awaitDatagramFin resends on loss
	}
	return nil
}
