// Package settings loads the operational parameters from environment
// variables (via a .env file, following a godotenv-based configuration)
// overlaid by command-line flags, and projects them onto a flow.Settings
// for the Client or Listener Engine.
package settings

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"netthrpt/internal/flow"
)

// Config holds the CLI/.env-sourced operational parameters.
type Config struct {
	Client bool

	Host       string
	LocalAddr  string
	V6         bool
	Datagram   bool

	BufLen         int
	Duration       time.Duration
	Amount         int64
	ReportInterval time.Duration

	RateBitsPerSec float64
	VaryLoad       bool
	Variance       float64

	BurstModel string // "none", "periodic", "isochronous"
	FPS        float64
	Mean       float64
	BurstSize  int

	TxHoldback    time.Duration
	NearCongestion bool
	RTTDivider    float64
	WritePrefetch bool

	FullDuplex bool
	Reverse    bool
	TripTime   bool
	NoUDPFin   bool
	SeqNo64    bool

	PermitKey string

	SingleClient bool
	ListenerTimeout time.Duration

	ConnectRetries    int
	ConnectOnlyCount  int
	ConnectOnlyPeriod time.Duration
}

// LoadEnv reads .env (when present; its absence is not an error, since a
// deployment may configure purely through real environment variables or
// flags) and fills a Config from the recognised variable names.
func LoadEnv(path string) (Config, error) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("settings: loading %s: %w", path, err)
	}

	var c Config
	var err error

	c.Host = os.Getenv("DEST_ADDR")
	c.LocalAddr = os.Getenv("SRC_ADDR")
	c.V6 = envBool("IPV6")
	c.Datagram = envBool("DATAGRAM")

	c.BufLen = envIntDefault("BUF_LEN", 131072, &err)
	c.Duration, err = envDurationDefault("DURATION", 10*time.Second, err)
	c.Amount = int64(envIntDefault("AMOUNT", 0, &err))
	c.ReportInterval, err = envDurationDefault("REPORT_INTERVAL", time.Second, err)

	c.RateBitsPerSec = envFloatDefault("RATE_BPS", 0, &err)
	c.VaryLoad = envBool("VARY_LOAD")
	c.Variance = envFloatDefault("VARIANCE", 0, &err)

	c.BurstModel = envOr("BURST_MODEL", "none")
	c.FPS = envFloatDefault("FPS", 0, &err)
	c.Mean = envFloatDefault("MEAN_BPS", 0, &err)
	c.BurstSize = envIntDefault("BURST_SIZE", 0, &err)

	c.TxHoldback, err = envDurationDefault("TX_HOLDBACK", 0, err)
	c.NearCongestion = envBool("NEAR_CONGESTION")
	c.RTTDivider = envFloatDefault("RTT_DIVIDER", 1, &err)
	c.WritePrefetch = envBool("WRITE_PREFETCH")

	c.FullDuplex = envBool("FULL_DUPLEX")
	c.Reverse = envBool("REVERSE")
	c.TripTime = envBool("TRIP_TIME")
	c.NoUDPFin = envBool("NO_UDP_FIN")
	c.SeqNo64 = envBool("SEQNO64")

	c.PermitKey = os.Getenv("PERMIT_KEY")

	c.SingleClient = envBool("SINGLE_CLIENT")
	c.ListenerTimeout, err = envDurationDefault("LISTENER_TIMEOUT", 0, err)

	c.ConnectRetries = envIntDefault("CONNECT_RETRIES", 3, &err)
	c.ConnectOnlyCount = envIntDefault("CONNECT_ONLY_COUNT", 0, &err)
	c.ConnectOnlyPeriod, err = envDurationDefault("CONNECT_ONLY_PERIOD", time.Second, err)

	if err != nil {
		return c, fmt.Errorf("settings: %w", err)
	}
	return c, nil
}

// ToFlowSettings projects a Config onto the flow.Settings a Client or
// Listener Engine consumes.
func (c Config) ToFlowSettings() (flow.Settings, error) {
	var s flow.Settings

	if c.Host != "" {
		peer, err := netip.ParseAddrPort(c.Host)
		if err != nil {
			return s, fmt.Errorf("settings: bad DEST_ADDR %q: %w", c.Host, err)
		}
		s.Peer = peer
	}
	if c.LocalAddr != "" {
		local, err := netip.ParseAddrPort(c.LocalAddr)
		if err != nil {
			return s, fmt.Errorf("settings: bad SRC_ADDR %q: %w", c.LocalAddr, err)
		}
		s.Local = local
	}

	s.Proto = flow.Stream
	if c.Datagram {
		s.Proto = flow.Datagram
	}
	s.Role = flow.RoleClient

	s.BufLen = c.BufLen
	if c.Amount > 0 {
		s.Mode = flow.ModeAmount
		s.Amount = c.Amount
	} else {
		s.Mode = flow.ModeTime
		s.Duration = c.Duration
	}
	s.ReportInterval = c.ReportInterval

	s.Rate = c.RateBitsPerSec
	s.RateUnits = flow.UnitsBandwidth
	s.VaryLoad = c.VaryLoad
	s.Variance = c.Variance

	switch c.BurstModel {
	case "periodic":
		s.Burst = flow.BurstPeriodic
	case "isochronous":
		s.Burst = flow.BurstIsochronous
	default:
		s.Burst = flow.BurstNone
	}
	s.FPS = c.FPS
	s.Mean = c.Mean
	s.BurstSize = c.BurstSize

	s.Features = flow.Features{
		FullDuplex:        c.FullDuplex,
		Reverse:           c.Reverse,
		TripTime:          c.TripTime,
		PeriodicBurst:     c.BurstModel == "periodic",
		Isochronous:       c.BurstModel == "isochronous",
		TxHoldback:        c.TxHoldback,
		NearCongestion:    c.NearCongestion,
		RTTDivider:        c.RTTDivider,
		WritePrefetch:     c.WritePrefetch,
		NoUDPFin:          c.NoUDPFin,
		PermitKeySet:      c.PermitKey != "",
		V6:                c.V6,
		PeerVersionDetect: true,
		SeqNo64:           c.SeqNo64,
	}
	s.PermitKey = c.PermitKey
	s.ConnectRetries = c.ConnectRetries
	s.ConnectOnlyCount = c.ConnectOnlyCount
	s.ConnectOnlyPeriod = c.ConnectOnlyPeriod

	return s, s.Validate()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func envIntDefault(key string, def int, err *error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, e := strconv.Atoi(v)
	if e != nil {
		*err = fmt.Errorf("bad %s: %w", key, e)
		return def
	}
	return n
}

func envFloatDefault(key string, def float64, err *error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, e := strconv.ParseFloat(v, 64)
	if e != nil {
		*err = fmt.Errorf("bad %s: %w", key, e)
		return def
	}
	return f
}

func envDurationDefault(key string, def time.Duration, prevErr error) (time.Duration, error) {
	if prevErr != nil {
		return def, prevErr
	}
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	secs, e := strconv.ParseFloat(v, 64)
	if e != nil {
		return def, fmt.Errorf("bad %s: %w", key, e)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
