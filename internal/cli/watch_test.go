package cli

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/valter-silva-au/cronwatch/internal/core"
)

func loadedWatchModel(t *testing.T, width int) watchModel {
	t.Helper()
	m := newWatchModel(5 * time.Second)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: width, Height: 40})
	m = updated.(watchModel)
	updated, _ = m.Update(watchDataMsg{
		stats:  scenarioStats(),
		status: core.DaemonStatus{Running: true, PID: 4242, LockPath: "/tmp/cronwatch.pid"},
	})
	return updated.(watchModel)
}

func TestWatchModel_LoadingBeforeSize(t *testing.T) {
	m := newWatchModel(time.Second)
	if got := m.View(); got != "Loading..." {
		t.Errorf("expected Loading..., got %q", got)
	}
}

func TestWatchModel_RendersPanels(t *testing.T) {
	for _, width := range []int{80, 200} {
		m := loadedWatchModel(t, width)
		if m.loading {
			t.Error("expected loading to be cleared")
		}
		view := m.View()
		for _, want := range []string{"Last 24h", "Last 7d", "Last failure", "timeout", "RUNNING", "4242", "Total entries: 3"} {
			if !strings.Contains(view, want) {
				t.Errorf("width %d: view missing %q:\n%s", width, want, view)
			}
		}
	}
}

func TestWatchModel_TabCyclesPanels(t *testing.T) {
	m := loadedWatchModel(t, 80)
	// Two windows, last failure and daemon.
	if n := m.panelCount(); n != 4 {
		t.Fatalf("expected 4 panels, got %d", n)
	}

	for i := 1; i <= 4; i++ {
		updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
		m = updated.(watchModel)
		if want := i % 4; m.activePanel != want {
			t.Errorf("after %d tabs expected panel %d, got %d", i, want, m.activePanel)
		}
	}

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	m = updated.(watchModel)
	if m.activePanel != 3 {
		t.Errorf("shift+tab from 0 should wrap to 3, got %d", m.activePanel)
	}
}

func TestWatchModel_QuitKeys(t *testing.T) {
	m := loadedWatchModel(t, 80)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestWatchModel_RefreshKeySetsLoading(t *testing.T) {
	m := loadedWatchModel(t, 80)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	m = updated.(watchModel)
	if !m.loading || cmd == nil {
		t.Error("expected refresh to set loading and return a load command")
	}
	if !strings.Contains(m.View(), "refreshing") {
		t.Error("expected refreshing marker in footer")
	}
}

func TestWatchModel_Error(t *testing.T) {
	m := loadedWatchModel(t, 80)
	updated, _ := m.Update(watchDataMsg{err: errors.New("database is locked")})
	m = updated.(watchModel)
	if !strings.Contains(m.View(), "database is locked") {
		t.Errorf("expected error in view:\n%s", m.View())
	}
}

func TestWatchModel_TickSchedulesReload(t *testing.T) {
	m := loadedWatchModel(t, 80)
	_, cmd := m.Update(watchTickMsg(time.Now()))
	if cmd == nil {
		t.Error("expected tick to schedule a reload")
	}
}

func TestLoadWatchData(t *testing.T) {
	withServices(t)
	Stats = &fakeStats{stats: scenarioStats()}

	msg, ok := loadWatchData().(watchDataMsg)
	if !ok {
		t.Fatal("expected watchDataMsg")
	}
	if msg.err != nil {
		t.Fatalf("unexpected error: %v", msg.err)
	}
	if msg.stats.TotalEntries != 3 {
		t.Errorf("expected 3 entries, got %d", msg.stats.TotalEntries)
	}
	if msg.status.Running {
		t.Error("expected daemon not running")
	}
}

func TestLoadWatchData_StatsError(t *testing.T) {
	withServices(t)
	Stats = &fakeStats{err: errors.New("database is locked")}

	msg := loadWatchData().(watchDataMsg)
	if msg.err == nil || !strings.Contains(msg.err.Error(), "loading stats") {
		t.Errorf("expected stats error, got %v", msg.err)
	}
}

func TestWatchCmd_Validation(t *testing.T) {
	withServices(t)
	_, err := run(t, watchCmd)
	if err == nil || !strings.Contains(err.Error(), "aggregator not initialized") {
		t.Fatalf("expected aggregator error, got %v", err)
	}

	Stats = &fakeStats{}
	orig := watchInterval
	defer func() { watchInterval = orig }()
	watchInterval = 0
	_, err = run(t, watchCmd)
	if err == nil || !strings.Contains(err.Error(), "--interval") {
		t.Fatalf("expected interval error, got %v", err)
	}
}
