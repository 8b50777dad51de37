package collector

import (
	"github.com/shirou/gopsutil/v3/process"

	"trustd/pkg/models"
)

type procMeta struct {
	name       string
	username   string
	createTime int64
}

// processMonitor diffs successive process table snapshots. Metadata for
// each PID is cached so the end event carries the same fields as the
// start event, even though the process is gone by then.
type processMonitor struct {
	previous map[int32]struct{}
	cache    map[int32]procMeta
}

func newProcessMonitor() *processMonitor {
	return &processMonitor{
		previous: make(map[int32]struct{}),
		cache:    make(map[int32]procMeta),
	}
}

func (m *processMonitor) poll(emit emitFunc) error {
	procs, err := process.Processes()
	if err != nil {
		return err
	}

	current := make(map[int32]struct{}, len(procs))
	for _, p := range procs {
		// Permission errors and exit races are routine; skip the
		// process rather than failing the iteration.
		name, err := p.Name()
		if err != nil {
			continue
		}
		username, err := p.Username()
		if err != nil {
			username = ""
		}
		createTime, err := p.CreateTime()
		if err != nil {
			createTime = 0
		}

		pid := p.Pid
		current[pid] = struct{}{}

		if _, seen := m.previous[pid]; !seen {
			emit(models.ProcessStart, map[string]any{
				"pid":          pid,
				"process_name": name,
				"username":     username,
				"create_time":  createTime,
			})
		}

		m.cache[pid] = procMeta{name: name, username: username, createTime: createTime}
	}

	for pid := range m.previous {
		if _, alive := current[pid]; alive {
			continue
		}
		if meta, ok := m.cache[pid]; ok {
			emit(models.ProcessEnd, map[string]any{
				"pid":          pid,
				"process_name": meta.name,
				"username":     meta.username,
				"create_time":  meta.createTime,
			})
			delete(m.cache, pid)
		}
	}

	m.previous = current
	return nil
}
