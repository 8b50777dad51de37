package collector

import (
	"io"
	"os"
	"strings"

	"trustd/pkg/models"
)

// authLogMonitor tails the system authentication log by byte offset,
// reading only newly appended bytes each poll and classifying each new
// line by substring patterns.
type authLogMonitor struct {
	path    string
	offset  int64
	checked bool
}

func newAuthLogMonitor(path string) *authLogMonitor {
	return &authLogMonitor{path: path}
}

func (m *authLogMonitor) poll(emit emitFunc) error {
	if !m.checked {
		m.checked = true
		if _, err := os.Stat(m.path); err != nil {
			// No auth log on this host. The monitor has nothing to
			// watch; shut the loop down instead of erroring forever.
			return errMonitorStop
		}
	}

	f, err := os.Open(m.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < m.offset {
		// Rotated or truncated; start over from the top.
		m.offset = 0
	}

	if _, err := f.Seek(m.offset, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	m.offset += int64(len(data))

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		classifyAuthLine(line, emit)
	}
	return nil
}

// classifyAuthLine maps one log line to an auth event. Priority order
// matters: a line that matches none of the patterns is ignored.
func classifyAuthLine(line string, emit emitFunc) {
	lower := strings.ToLower(line)
	trimmed := strings.TrimSpace(line)

	switch {
	case strings.Contains(lower, "session opened") || strings.Contains(lower, "accepted"):
		emit(models.Login, map[string]any{
			"log_line":     trimmed,
			"auth_success": true,
			"username":     extractAuthUser(line),
		})
	case strings.Contains(lower, "session closed") || strings.Contains(lower, "disconnected"):
		emit(models.Logout, map[string]any{
			"log_line":     trimmed,
			"auth_success": true,
			"username":     extractAuthUser(line),
		})
	case strings.Contains(lower, "failed") || strings.Contains(lower, "authentication failure"):
		emit(models.AuthFailure, map[string]any{
			"log_line":     trimmed,
			"auth_success": false,
			"username":     extractAuthUser(line),
		})
	case strings.Contains(lower, "sudo:") && strings.Contains(lower, "command"):
		emit(models.SudoCommand, map[string]any{
			"log_line": trimmed,
			"command":  extractSudoCommand(line),
			"username": extractAuthUser(line),
		})
	}
}

// extractSudoCommand pulls the command text out of a sudo log line.
func extractSudoCommand(line string) string {
	if idx := strings.Index(line, "COMMAND="); idx >= 0 {
		return strings.TrimSpace(line[idx+len("COMMAND="):])
	}
	return "unknown"
}

// extractAuthUser makes a best-effort pass for the acting user in
// common sshd/sudo/pam line shapes. Absence is fine; the feature
// schema treats the user field as optional.
func extractAuthUser(line string) string {
	for _, marker := range []string{"for user ", "for ", "user="} {
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		rest := line[idx+len(marker):]
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		user := strings.Trim(fields[0], ":;,")
		if user != "" && user != "invalid" {
			return user
		}
	}
	return ""
}
