// Package client implements the Client Engine: connect, first-payload
// send, transmit loop selection, pacing, and teardown.
package client

import (
	"context"
	"net"
	"time"

	"netthrpt/internal/barrier"
	"netthrpt/internal/flow"
	"netthrpt/internal/report"
	"netthrpt/internal/ring"
)

// Client drives one traffic flow end to end. A flow's Settings are
// exclusively owned by this Client once constructed.
type Client struct {
	Settings flow.Settings
	Conn     net.Conn
	Ring     *ring.Ring

	// Barrier, FullDuplex and GroupSum are optional aggregates shared
	// across the flows of one logical test.
	Barrier    *barrier.Barrier
	FullDuplex *report.FullDuplexReport
	GroupSum   *report.GroupSumReport

	// JobReports receives the flow's JobReport header once initTrafficLoop
	// has decided whether this is a one-shot (totals only) flow. Optional;
	// nil means no Reporter is attached.
	JobReports func(report.JobReport)

	payload []byte

	startTime   time.Time
	endTime     time.Time
	packetID    int64
	bytesSent   int64
	peerClosed  bool
	sendTimeout time.Duration
	oneReport   bool
	burstID     uint32
}

// New constructs a Client for an already-connected flow. Connect (in
// connect.go) must have already produced conn.
func New(s flow.Settings, conn net.Conn, ringBuf *ring.Ring) *Client {
	return &Client{
		Settings: s,
		Conn:     conn,
		Ring:     ringBuf,
		payload:  newPayload(s.BufLen),
	}
}

// Run executes the full lifecycle: settings exchange, start synchronization,
// initTrafficLoop, the selected transmit loop, and finishTrafficActions.
func (c *Client) Run(ctx context.Context) error {
	if err := c.Settings.Validate(); err != nil {
		return err
	}

	if !c.Settings.Features.Compat {
		if err := c.sendFirstPayload(ctx); err != nil {
			return err
		}
	}

	c.applyHoldbackOrEpoch(ctx)

	if c.Settings.Features.FullDuplex && c.FullDuplex != nil {
		c.FullDuplex.Join()
		c.startTime = c.FullDuplex.SetStartTimeOnce(time.Now())
	} else if c.Barrier != nil {
		c.startTime = c.Barrier.Wait()
	} else {
		c.startTime = time.Now()
	}

	if c.GroupSum != nil {
		c.GroupSum.SetStartTimeOnce(c.startTime)
	}

	c.initTrafficLoop()

	if c.JobReports != nil {
		c.JobReports(report.JobReport{JobID: c.Settings.JobID, Ring: c.Ring, OneShot: c.oneReport})
	}

	loopErr := c.runSelectedLoop(ctx)

	if c.GroupSum != nil {
		c.GroupSum.Add(c.bytesSent, c.packetID)
	}

	if err := c.finishTrafficActions(ctx); err != nil && loopErr == nil {
		loopErr = err
	}

	if c.Settings.Features.FullDuplex && c.FullDuplex != nil {
		c.FullDuplex.Leave()
	}

	return loopErr
}

// applyHoldbackOrEpoch sleeps for TxHoldback, or until the absolute
// TxEpochStart wall-clock time.
func (c *Client) applyHoldbackOrEpoch(ctx context.Context) {
	var wait time.Duration
	switch {
	case !c.Settings.Features.TxEpochStart.IsZero():
		wait = time.Until(c.Settings.Features.TxEpochStart)
	case c.Settings.Features.TxHoldback > 0:
		wait = c.Settings.Features.TxHoldback
	default:
		return
	}
	if wait <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

// initTrafficLoop chooses the socket send timeout and whether only a final
// total is reported.
func (c *Client) initTrafficLoop() {
	switch {
	case c.Settings.Features.PeriodicBurst && c.Settings.FPS > 0:
		c.sendTimeout = time.Duration(float64(time.Second) / c.Settings.FPS / 4)
	case c.Settings.ReportInterval > 0:
		c.sendTimeout = c.Settings.ReportInterval / 2
	case c.Settings.Duration > 0:
		c.sendTimeout = c.Settings.Duration / 2
	default:
		c.sendTimeout = time.Second
	}

	c.oneReport = c.Settings.Proto == flow.Stream &&
		!c.Settings.Features.TripTime &&
		c.Settings.ReportInterval == 0 &&
		c.Settings.Burst == flow.BurstNone &&
		!c.Settings.Features.Reverse

	if c.Settings.Mode == flow.ModeTime {
		c.endTime = c.startTime.Add(c.Settings.Duration)
	}
}

// inProgress reports whether the transmit loop should keep running: not
// interrupted, not peer-closed, time not elapsed, bytes sent < amount.
func (c *Client) inProgress(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	if c.peerClosed {
		return false
	}
	if c.Settings.Mode == flow.ModeTime {
		return time.Now().Before(c.endTime)
	}
	return c.bytesSent < c.Settings.Amount
}
