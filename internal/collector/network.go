package collector

import (
	"fmt"

	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"trustd/pkg/models"
)

// networkMonitor polls established inet connections and emits rising
// edges only: a connection identifier produces one event the first
// poll it appears in, and nothing when it disappears.
type networkMonitor struct {
	previous map[string]struct{}
}

func newNetworkMonitor() *networkMonitor {
	return &networkMonitor{previous: make(map[string]struct{})}
}

func (m *networkMonitor) poll(emit emitFunc) error {
	conns, err := gopsnet.Connections("inet")
	if err != nil {
		return err
	}

	current := make(map[string]struct{}, len(conns))
	for _, conn := range conns {
		if conn.Status != "ESTABLISHED" {
			continue
		}

		local := fmt.Sprintf("%s:%d", conn.Laddr.IP, conn.Laddr.Port)
		remote := fmt.Sprintf("%s:%d", conn.Raddr.IP, conn.Raddr.Port)
		connID := local + "-" + remote
		current[connID] = struct{}{}

		if _, seen := m.previous[connID]; seen {
			continue
		}

		emit(models.NetworkConnection, map[string]any{
			"local_address":  local,
			"remote_address": remote,
			"destination":    remote,
			"source_ip":      conn.Raddr.IP,
			"port":           int(conn.Raddr.Port),
			"status":         conn.Status,
			"pid":            conn.Pid,
			"process_name":   processName(conn.Pid),
		})
	}

	m.previous = current
	return nil
}

func processName(pid int32) string {
	if pid <= 0 {
		return "unknown"
	}
	p, err := process.NewProcess(pid)
	if err != nil {
		return "unknown"
	}
	name, err := p.Name()
	if err != nil {
		return "unknown"
	}
	return name
}
