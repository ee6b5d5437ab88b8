package monitor

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// StatusEstablished is the connection status the network check looks at
const StatusEstablished = "ESTABLISHED"

// Connection is an inet socket as seen by the probe
type Connection struct {
	PID        int32
	Status     string
	RemoteIP   string
	RemotePort uint32
}

// Process is a running process and its full command line
type Process struct {
	PID     int32
	Cmdline string
}

// Probe reads host state. The production probe is backed by gopsutil.
type Probe interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	Connections(ctx context.Context) ([]Connection, error)
	Processes(ctx context.Context) ([]Process, error)
}

// HostProbe implements Probe with gopsutil
type HostProbe struct{}

// NewHostProbe returns a probe for the local host
func NewHostProbe() *HostProbe {
	return &HostProbe{}
}

// CPUPercent returns overall CPU usage since the previous call
func (HostProbe) CPUPercent(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

// MemoryPercent returns used virtual memory as a percentage
func (HostProbe) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read memory usage: %w", err)
	}
	return vm.UsedPercent, nil
}

// Connections lists inet sockets
func (HostProbe) Connections(ctx context.Context) ([]Connection, error) {
	stats, err := psnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	conns := make([]Connection, 0, len(stats))
	for _, st := range stats {
		conns = append(conns, Connection{
			PID:        st.Pid,
			Status:     st.Status,
			RemoteIP:   st.Raddr.IP,
			RemotePort: st.Raddr.Port,
		})
	}
	return conns, nil
}

// Processes lists running processes. Processes that exit or deny access
// while being inspected are skipped.
func (HostProbe) Processes(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		args, err := p.CmdlineSliceWithContext(ctx)
		if err != nil || len(args) == 0 {
			continue
		}
		out = append(out, Process{PID: p.Pid, Cmdline: strings.Join(args, " ")})
	}
	return out, nil
}
