// Package watch implements the read-only terminal dashboard behind `loom
// watch` (spec §6.3): a live view of shepherd slots, support roles, and
// recent milestones, polling the daemon's on-disk state rather than
// tailing an event stream.
package watch

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rjwalters/loom/internal/store"
)

// Panel identifies which panel has input focus.
type Panel int

const (
	PanelSlots Panel = iota
	PanelFeed
)

const (
	slotsPanelPercent = 40
	maxEventHistory   = 500
	pollInterval      = 2 * time.Second
)

// Event is one line in the activity feed, built from a shepherd's
// progress-file milestones. Support role completions and recorded
// interventions are not turned into events.
type Event struct {
	Time    time.Time
	Type    string // milestone, complete, fail, intervene
	Source  string // slot id or role id
	Message string
}

// SlotView is the dashboard's rendering of one shepherd slot.
type SlotView struct {
	SlotID     string
	Status     string
	Issue      *int
	Phase      string
	IdleSince  *time.Time
	IdleReason string
}

// RoleView is the dashboard's rendering of one support role.
type RoleView struct {
	RoleID string
	Status string
}

// Model is the bubbletea model driving `loom watch`.
type Model struct {
	width  int
	height int

	focusedPanel  Panel
	slotsViewport viewport.Model
	feedViewport  viewport.Model

	st *store.Store

	slots  []SlotView
	roles  []RoleView
	events []Event

	seenMilestones map[string]time.Time // taskID -> latest milestone timestamp seen

	keys     KeyMap
	help     help.Model
	showHelp bool

	mu sync.RWMutex
}

// NewModel returns a Model that polls st for dashboard data.
func NewModel(st *store.Store) *Model {
	h := help.New()
	h.ShowAll = false

	return &Model{
		st:             st,
		slotsViewport:  viewport.New(0, 0),
		feedViewport:   viewport.New(0, 0),
		keys:           DefaultKeyMap(),
		help:           h,
		seenMilestones: make(map[string]time.Time),
	}
}

// Init starts the first poll and the window title.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.poll(), tea.SetWindowTitle("loom watch"))
}

type pollMsg struct {
	slots  []SlotView
	roles  []RoleView
	events []Event
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// poll reads current daemon state and any new milestones off disk.
func (m *Model) poll() tea.Cmd {
	return func() tea.Msg {
		state, err := m.st.Read()
		if err != nil {
			return pollMsg{}
		}

		slots := make([]SlotView, 0, len(state.Shepherds))
		for id, slot := range state.Shepherds {
			slots = append(slots, SlotView{
				SlotID:     id,
				Status:     string(slot.Status),
				Issue:      slot.Issue,
				Phase:      string(slot.Phase),
				IdleSince:  slot.IdleSince,
				IdleReason: slot.IdleReason,
			})
		}
		sort.Slice(slots, func(i, j int) bool { return slots[i].SlotID < slots[j].SlotID })

		roles := make([]RoleView, 0, len(state.SupportRoles))
		for id, role := range state.SupportRoles {
			roles = append(roles, RoleView{RoleID: string(id), Status: string(role.Status)})
		}
		sort.Slice(roles, func(i, j int) bool { return roles[i].RoleID < roles[j].RoleID })

		var newEvents []Event
		m.mu.RLock()
		seen := make(map[string]time.Time, len(m.seenMilestones))
		for k, v := range m.seenMilestones {
			seen[k] = v
		}
		m.mu.RUnlock()

		for _, slot := range state.Shepherds {
			if slot.TaskID == "" {
				continue
			}
			progress, ok, err := m.st.ReadProgress(slot.TaskID)
			if err != nil || !ok {
				continue
			}
			last := seen[slot.TaskID]
			for _, ms := range progress.Milestones {
				if !ms.Timestamp.After(last) {
					continue
				}
				newEvents = append(newEvents, Event{
					Time:    ms.Timestamp,
					Type:    milestoneEventType(ms.Event),
					Source:  slot.SlotID,
					Message: milestoneMessage(ms),
				})
			}
			if len(progress.Milestones) > 0 {
				seen[slot.TaskID] = progress.Milestones[len(progress.Milestones)-1].Timestamp
			}
		}

		m.mu.Lock()
		m.seenMilestones = seen
		m.mu.Unlock()

		sort.Slice(newEvents, func(i, j int) bool { return newEvents[i].Time.Before(newEvents[j].Time) })

		return pollMsg{slots: slots, roles: roles, events: newEvents}
	}
}

func milestoneEventType(event string) string {
	switch event {
	case "completed", "merged":
		return "complete"
	case "failed", "errored":
		return "fail"
	default:
		return "milestone"
	}
}

func milestoneMessage(ms store.Milestone) string {
	if ms.Detail == "" {
		return ms.Event
	}
	return ms.Event + ": " + ms.Detail
}

// Update handles bubbletea messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateViewportSizes()

	case pollMsg:
		m.mu.Lock()
		m.slots = msg.slots
		m.roles = msg.roles
		if len(msg.events) > 0 {
			m.events = append(m.events, msg.events...)
			if len(m.events) > maxEventHistory {
				m.events = m.events[len(m.events)-maxEventHistory:]
			}
		}
		m.updateViewContentLocked()
		m.mu.Unlock()
		cmds = append(cmds, tick())

	case tickMsg:
		cmds = append(cmds, m.poll())
	}

	m.mu.Lock()
	var cmd tea.Cmd
	switch m.focusedPanel {
	case PanelSlots:
		m.slotsViewport, cmd = m.slotsViewport.Update(msg)
	case PanelFeed:
		m.feedViewport, cmd = m.feedViewport.Update(msg)
	}
	m.mu.Unlock()
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		return m, nil
	case key.Matches(msg, m.keys.Tab):
		if m.focusedPanel == PanelSlots {
			m.focusedPanel = PanelFeed
		} else {
			m.focusedPanel = PanelSlots
		}
		return m, nil
	case key.Matches(msg, m.keys.FocusSlots):
		m.focusedPanel = PanelSlots
		return m, nil
	case key.Matches(msg, m.keys.FocusFeed):
		m.focusedPanel = PanelFeed
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		return m, m.poll()
	}

	m.mu.Lock()
	var cmd tea.Cmd
	switch m.focusedPanel {
	case PanelSlots:
		m.slotsViewport, cmd = m.slotsViewport.Update(msg)
	case PanelFeed:
		m.feedViewport, cmd = m.feedViewport.Update(msg)
	}
	m.mu.Unlock()
	return m, cmd
}

func (m *Model) updateViewportSizes() {
	headerHeight, statusHeight, helpHeight := 1, 1, 1
	if m.showHelp {
		helpHeight = 3
	}
	borderHeight := 4

	available := m.height - headerHeight - statusHeight - helpHeight - borderHeight
	if available < 4 {
		available = 4
	}

	slotsHeight := available * slotsPanelPercent / 100
	feedHeight := available - slotsHeight
	if slotsHeight < 3 {
		slotsHeight = 3
	}
	if feedHeight < 3 {
		feedHeight = 3
	}

	contentWidth := m.width - 4
	if contentWidth < 20 {
		contentWidth = 20
	}

	m.mu.Lock()
	m.slotsViewport.Width = contentWidth
	m.slotsViewport.Height = slotsHeight
	m.feedViewport.Width = contentWidth
	m.feedViewport.Height = feedHeight
	m.updateViewContentLocked()
	m.mu.Unlock()
}

// updateViewContentLocked refreshes viewport content. Caller must hold m.mu.
func (m *Model) updateViewContentLocked() {
	m.slotsViewport.SetContent(m.renderSlots())
	m.feedViewport.SetContent(m.renderFeed())
}

// View renders the dashboard.
func (m *Model) View() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.render()
}

func issueString(n *int) string {
	if n == nil {
		return "-"
	}
	return "#" + strconv.Itoa(*n)
}
