package firewall

import (
	"bastion/core"
	"bastion/metrics"
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// DefaultChain is the dedicated chain every bastion rule lives in
const DefaultChain = "BASTION_FW"

// Engine installs the base rule chain and appends DROP rules for threat addresses.
// Bootstrap must run before SyncThreats.
type Engine struct {
	runner     Runner
	store      core.SystemEventRecorder
	logger     *zap.SugaredLogger
	chain      string
	blockPorts []int

	mu      sync.Mutex
	applied map[string]struct{}
}

// NewEngine creates an Engine that drives runner
func NewEngine(runner Runner, store core.SystemEventRecorder, blockPorts []int, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		runner:     runner,
		store:      store,
		logger:     logger,
		chain:      DefaultChain,
		blockPorts: append([]int(nil), blockPorts...),
		applied:    make(map[string]struct{}),
	}
}

// Bootstrap resets the chain, hooks it into INPUT and FORWARD, allows
// established and loopback traffic and drops the configured ports.
func (e *Engine) Bootstrap(ctx context.Context) error {
	if err := e.store.RecordSystemEvent(ctx, core.EventFirewallInit, "Bootstrapping firewall chain", core.SeverityInfo); err != nil {
		return err
	}

	// flush and delete fail harmlessly when the chain does not exist yet.
	// A chain left by an earlier run is still referenced from INPUT and
	// FORWARD, so -X and -N fail on it; once flushed it is reused as is.
	flushErr := e.runner.Run(ctx, "-F", e.chain)
	_ = e.runner.Run(ctx, "-X", e.chain)
	if err := e.runner.Run(ctx, "-N", e.chain); err != nil {
		if flushErr != nil {
			return e.fail(ctx, "create chain", err)
		}
		e.logger.Debugw("Reusing existing firewall chain", "chain", e.chain, "error", err)
	}

	for _, table := range []string{"INPUT", "FORWARD"} {
		if err := e.runner.Run(ctx, "-C", table, "-j", e.chain); err == nil {
			continue
		}
		if err := e.runner.Run(ctx, "-I", table, "1", "-j", e.chain); err != nil {
			return e.fail(ctx, "attach chain to "+table, err)
		}
	}

	rules := [][]string{
		{"-A", e.chain, "-m", "state", "--state", "ESTABLISHED,RELATED", "-j", "ACCEPT"},
		{"-A", e.chain, "-i", "lo", "-j", "ACCEPT"},
	}
	for _, port := range e.blockPorts {
		for _, proto := range []string{"tcp", "udp"} {
			rules = append(rules, []string{"-A", e.chain, "-p", proto, "--dport", strconv.Itoa(port), "-j", "DROP"})
		}
	}
	for _, rule := range rules {
		if err := e.runner.Run(ctx, rule...); err != nil {
			return e.fail(ctx, "append rule", err)
		}
	}

	e.mu.Lock()
	e.applied = make(map[string]struct{})
	e.mu.Unlock()

	e.logger.Infow("Firewall chain ready", "chain", e.chain, "blocked_ports", len(e.blockPorts))
	return e.store.RecordSystemEvent(ctx, core.EventFirewallReady, "Default rules applied", core.SeverityInfo)
}

// SyncThreats appends a DROP rule for each valid address not already applied.
// Invalid entries are skipped. Returns the number of rules added.
func (e *Engine) SyncThreats(ctx context.Context, ips []string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	added := 0
	for _, raw := range ips {
		source, ok := normalizeSource(raw)
		if !ok {
			e.logger.Debugw("Skipping invalid threat address", "address", raw)
			continue
		}
		if _, dup := e.applied[source]; dup {
			continue
		}
		if err := e.runner.Run(ctx, "-A", e.chain, "-s", source, "-j", "DROP"); err != nil {
			e.logger.Warnw("Failed to block threat address", "address", source, "error", err)
			continue
		}
		e.applied[source] = struct{}{}
		added++
	}

	metrics.FirewallRules.Set(float64(len(e.applied)))
	e.logger.Infow("Threat addresses synced", "added", added, "total", len(e.applied))
	if err := e.store.RecordSystemEvent(ctx, core.EventFirewallSync,
		fmt.Sprintf("Applied %d threat IPs", added), core.SeverityInfo); err != nil {
		return added, err
	}
	return added, nil
}

func (e *Engine) fail(ctx context.Context, step string, err error) error {
	e.logger.Warnw("Firewall bootstrap step failed", "step", step, "error", err)
	if recErr := e.store.RecordSystemEvent(ctx, core.EventFirewallError,
		fmt.Sprintf("Failed to %s: %v", step, err), core.SeverityWarning); recErr != nil {
		return recErr
	}
	return fmt.Errorf("failed to %s: %w", step, err)
}

// normalizeSource accepts an address or CIDR prefix and returns its canonical form
func normalizeSource(s string) (string, bool) {
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().String(), true
	}
	if prefix, err := netip.ParsePrefix(s); err == nil {
		return prefix.Masked().String(), true
	}
	return "", false
}
