// Package statusui provides a read-only terminal dashboard over the
// kernel's filesystem state: locks, backend slots, and recent audit
// activity. It never mutates state; all writes come from the Scheduler.
package statusui

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kdyer/vaultrelay/internal/procutil"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	liveStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	busyStyle = lipgloss.NewStyle().Foreground(warningColor)
	deadStyle = lipgloss.NewStyle().Foreground(errorColor)
)

// BackendSlot is one row in the backend panel.
type BackendSlot struct {
	Name        string
	MaxParallel int
	InUse       int
	Exhausted   bool
}

// LockRow is one row in the locks panel.
type LockRow struct {
	Backend string
	Task    string
	PID     int
	Live    bool
}

// Snapshot is a point-in-time read of kernel state, assembled fresh on
// every tick from the state directory.
type Snapshot struct {
	Backends   []BackendSlot
	Locks      []LockRow
	Incomplete []string
	Err        error
}

// Reader loads Snapshots from a state directory. Implementations should
// not cache: the dashboard is only useful if every tick reflects the
// current filesystem state.
type Reader interface {
	Read() Snapshot
}

type tickMsg time.Time

type model struct {
	reader Reader
	snap   Snapshot
	width  int
	height int
}

// New constructs the bubbletea program model.
func New(reader Reader) tea.Model {
	return model{reader: reader}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), refresh(m.reader))
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func refresh(r Reader) tea.Cmd {
	return func() tea.Msg { return r.Read() }
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil
	case tickMsg:
		return m, tea.Batch(tick(), refresh(m.reader))
	case Snapshot:
		m.snap = msg
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("vaultrelay status") + "\n\n")

	if m.snap.Err != nil {
		b.WriteString(deadStyle.Render("error: "+m.snap.Err.Error()) + "\n")
		return b.String()
	}

	b.WriteString(panelStyle.Render(renderBackends(m.snap.Backends)) + "\n\n")
	b.WriteString(panelStyle.Render(renderLocks(m.snap.Locks)) + "\n\n")
	if len(m.snap.Incomplete) > 0 {
		b.WriteString(panelStyle.Render(renderIncomplete(m.snap.Incomplete)) + "\n\n")
	}
	b.WriteString(statusBarStyle.Render("q: quit") + "\n")

	return b.String()
}

func renderBackends(slots []BackendSlot) string {
	var b strings.Builder
	b.WriteString("Backends\n")
	sort.Slice(slots, func(i, j int) bool { return slots[i].Name < slots[j].Name })
	for _, s := range slots {
		status := liveStyle.Render("ready")
		if s.Exhausted {
			status = deadStyle.Render("exhausted")
		} else if s.InUse >= s.MaxParallel {
			status = busyStyle.Render("busy")
		}
		fmt.Fprintf(&b, "  %-10s %d/%d  %s\n", s.Name, s.InUse, s.MaxParallel, status)
	}
	return b.String()
}

func renderLocks(locks []LockRow) string {
	var b strings.Builder
	b.WriteString("Active locks\n")
	if len(locks) == 0 {
		b.WriteString("  (none)\n")
		return b.String()
	}
	for _, l := range locks {
		status := deadStyle.Render("dead")
		if l.Live {
			status = liveStyle.Render("live")
		}
		fmt.Fprintf(&b, "  %-10s %-20s pid=%-8d %s\n", l.Backend, l.Task, l.PID, status)
	}
	return b.String()
}

func renderIncomplete(tasks []string) string {
	var b strings.Builder
	b.WriteString("Incomplete invocations (unmatched journal START)\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "  %s\n", t)
	}
	return b.String()
}

// FSReader reads a Snapshot directly from the state directory, without
// depending on the in-process lockreg/backend/audit packages, so the
// status command can run as a standalone read against another process's
// state directory.
type FSReader struct {
	StateDir string
	Backends []BackendSlot
}

// Read implements Reader.
func (r FSReader) Read() Snapshot {
	locks, err := r.readLocks()
	if err != nil {
		return Snapshot{Err: err}
	}
	incomplete, err := r.readIncomplete()
	if err != nil {
		return Snapshot{Err: err}
	}

	backends := make([]BackendSlot, len(r.Backends))
	copy(backends, r.Backends)
	for i, b := range backends {
		for _, l := range locks {
			if l.Backend == b.Name && l.Live {
				backends[i].InUse++
			}
		}
	}

	return Snapshot{Backends: backends, Locks: locks, Incomplete: incomplete}
}

func (r FSReader) readLocks() ([]LockRow, error) {
	root := filepath.Join(r.StateDir, "locks")
	backendDirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var rows []LockRow
	for _, bd := range backendDirs {
		if !bd.IsDir() {
			continue
		}
		locks, err := os.ReadDir(filepath.Join(root, bd.Name()))
		if err != nil {
			continue
		}
		for _, l := range locks {
			data, err := os.ReadFile(filepath.Join(root, bd.Name(), l.Name()))
			if err != nil {
				continue
			}
			pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
			rows = append(rows, LockRow{
				Backend: bd.Name(),
				Task:    strings.TrimSuffix(l.Name(), ".lock"),
				PID:     pid,
				Live:    isAlive(pid),
			})
		}
	}
	return rows, nil
}

func (r FSReader) readIncomplete() ([]string, error) {
	path := filepath.Join(r.StateDir, "audit", "journal.log")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type key struct{ task, pid string }
	starts := map[key]bool{}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		var pid string
		for _, f := range fields {
			if strings.HasPrefix(f, "pid=") {
				pid = strings.TrimPrefix(f, "pid=")
			}
		}
		k := key{task: fields[2], pid: pid}
		switch fields[1] {
		case "START":
			starts[k] = true
		case "END":
			delete(starts, k)
		}
	}

	var out []string
	for k := range starts {
		out = append(out, k.task)
	}
	sort.Strings(out)
	return out, nil
}

func isAlive(pid int) bool {
	return procutil.IsAlive(pid)
}
