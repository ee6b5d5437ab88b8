package monitor

import (
	"bastion/core"
	"bastion/metrics"
	"bastion/util"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// MinPollInterval is the shortest allowed gap between polls
const MinPollInterval = 10 * time.Second

const (
	// NetworkAttackType is the attack_type of a suspicious connection
	NetworkAttackType = "network"
	// TargetService is the target_service of monitor attack events
	TargetService = "monitor"
	// SuspiciousConnectionRisk is the risk score of a suspicious connection
	SuspiciousConnectionRisk = 70

	reportedCacheSize = 2048
)

// Store is the subset of the event store the monitor needs
type Store interface {
	core.AttackEventRecorder
	core.SystemEventRecorder
}

// Config configures an Engine
type Config struct {
	PollInterval    time.Duration
	SuspiciousPorts []int
	ProcessPatterns []string
	CPUThreshold    float64
	MemoryThreshold float64
}

// Findings counts what one poll reported
type Findings struct {
	Connections int
	Processes   int
	Resources   int
}

// Total is the number of events a poll recorded
func (f Findings) Total() int {
	return f.Connections + f.Processes + f.Resources
}

// Engine polls host resources and records suspicious activity.
// A connection or process is reported once for as long as it stays
// in the reported cache; resource alerts repeat every poll.
type Engine struct {
	store    Store
	probe    Probe
	logger   *zap.SugaredLogger
	interval time.Duration
	ports    map[uint32]struct{}
	patterns []*regexp2.Regexp
	cpuMax   float64
	memMax   float64
	reported *lru.Cache[string, struct{}]
}

// NewEngine compiles the process patterns and clamps the poll interval
func NewEngine(store Store, probe Probe, cfg Config, logger *zap.SugaredLogger) (*Engine, error) {
	interval := cfg.PollInterval
	if interval < MinPollInterval {
		interval = MinPollInterval
	}

	ports := make(map[uint32]struct{}, len(cfg.SuspiciousPorts))
	for _, p := range cfg.SuspiciousPorts {
		ports[uint32(p)] = struct{}{}
	}

	patterns := make([]*regexp2.Regexp, 0, len(cfg.ProcessPatterns))
	for _, raw := range cfg.ProcessPatterns {
		re, err := util.CompilePattern(raw, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to compile process pattern: %w", err)
		}
		patterns = append(patterns, re)
	}

	reported, err := lru.New[string, struct{}](reportedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create reported cache: %w", err)
	}

	return &Engine{
		store:    store,
		probe:    probe,
		logger:   logger,
		interval: interval,
		ports:    ports,
		patterns: patterns,
		cpuMax:   cfg.CPUThreshold,
		memMax:   cfg.MemoryThreshold,
		reported: reported,
	}, nil
}

// Interval returns the effective poll interval
func (e *Engine) Interval() time.Duration {
	return e.interval
}

// Run records MONITOR_START and polls until ctx is cancelled. Only a store
// failure ends the loop early.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.store.RecordSystemEvent(ctx, core.EventMonitorStart,
		fmt.Sprintf("Resource monitor started (interval %s)", e.interval), core.SeverityInfo); err != nil {
		return err
	}
	e.logger.Infow("Resource monitor started", "interval", e.interval)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		if _, err := e.PollOnce(ctx); err != nil {
			if errors.Is(err, core.ErrStoreUnavailable) {
				return err
			}
			e.logger.Warnw("Monitor poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			e.logger.Infow("Resource monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce runs every check once. Probe errors skip the affected check;
// the first store error aborts the poll.
func (e *Engine) PollOnce(ctx context.Context) (Findings, error) {
	var f Findings
	var err error

	if f.Connections, err = e.checkConnections(ctx); err != nil {
		return f, err
	}
	if f.Processes, err = e.checkProcesses(ctx); err != nil {
		return f, err
	}
	if f.Resources, err = e.checkResources(ctx); err != nil {
		return f, err
	}

	if f.Total() > 0 {
		e.logger.Debugw("Monitor poll completed", "connections", f.Connections,
			"processes", f.Processes, "resources", f.Resources)
	}
	return f, nil
}

func (e *Engine) checkConnections(ctx context.Context) (int, error) {
	if len(e.ports) == 0 {
		return 0, nil
	}
	conns, err := e.probe.Connections(ctx)
	if err != nil {
		e.logger.Debugw("Connection probe failed", "error", err)
		return 0, nil
	}

	found := 0
	for _, c := range conns {
		if c.Status != StatusEstablished || c.RemoteIP == "" {
			continue
		}
		if _, ok := e.ports[c.RemotePort]; !ok {
			continue
		}
		key := fmt.Sprintf("conn/%d/%s/%d", c.PID, c.RemoteIP, c.RemotePort)
		if e.reported.Contains(key) {
			continue
		}

		event := core.AttackEvent{
			AttackerIP:    c.RemoteIP,
			AttackType:    NetworkAttackType,
			TargetService: TargetService,
			Payload:       "Suspicious connection to port " + strconv.FormatUint(uint64(c.RemotePort), 10),
			RiskScore:     SuspiciousConnectionRisk,
		}
		if err := e.store.RecordAttackEvent(ctx, event); err != nil {
			return found, err
		}
		e.reported.Add(key, struct{}{})
		metrics.MonitorAlerts.WithLabelValues("connection").Inc()
		e.logger.Warnw("Suspicious connection", "pid", c.PID, "remote_ip", c.RemoteIP, "remote_port", c.RemotePort)
		found++
	}
	return found, nil
}

func (e *Engine) checkProcesses(ctx context.Context) (int, error) {
	if len(e.patterns) == 0 {
		return 0, nil
	}
	procs, err := e.probe.Processes(ctx)
	if err != nil {
		e.logger.Debugw("Process probe failed", "error", err)
		return 0, nil
	}

	found := 0
	for _, p := range procs {
		key := fmt.Sprintf("proc/%d/%s", p.PID, p.Cmdline)
		if e.reported.Contains(key) || !e.matches(p.Cmdline) {
			continue
		}

		payload := fmt.Sprintf("Process %d suspicious command: %s", p.PID, p.Cmdline)
		if err := e.store.RecordSystemEvent(ctx, core.EventReverseShell, payload, core.SeverityCritical); err != nil {
			return found, err
		}
		e.reported.Add(key, struct{}{})
		metrics.MonitorAlerts.WithLabelValues("process").Inc()
		e.logger.Warnw("Suspicious process", "pid", p.PID, "cmdline", p.Cmdline)
		found++
	}
	return found, nil
}

func (e *Engine) matches(cmdline string) bool {
	for _, re := range e.patterns {
		ok, err := re.MatchString(cmdline)
		if err != nil {
			// match timeout; treat as no match
			e.logger.Debugw("Process pattern match failed", "pattern", re.String(), "error", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func (e *Engine) checkResources(ctx context.Context) (int, error) {
	found := 0

	if cpuPct, err := e.probe.CPUPercent(ctx); err != nil {
		e.logger.Debugw("CPU probe failed", "error", err)
	} else if e.cpuMax > 0 && cpuPct > e.cpuMax {
		if err := e.store.RecordSystemEvent(ctx, core.EventHighCPU,
			fmt.Sprintf("CPU usage at %.1f%%", cpuPct), core.SeverityWarning); err != nil {
			return found, err
		}
		metrics.MonitorAlerts.WithLabelValues("cpu").Inc()
		found++
	}

	if memPct, err := e.probe.MemoryPercent(ctx); err != nil {
		e.logger.Debugw("Memory probe failed", "error", err)
	} else if e.memMax > 0 && memPct > e.memMax {
		if err := e.store.RecordSystemEvent(ctx, core.EventHighMemory,
			fmt.Sprintf("Memory usage at %.1f%%", memPct), core.SeverityWarning); err != nil {
			return found, err
		}
		metrics.MonitorAlerts.WithLabelValues("memory").Inc()
		found++
	}
	return found, nil
}
