package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/bulkota/internal/ota"
)

// ErrInterrupted is returned by Run when the user quits the view.
var ErrInterrupted = errors.New("interrupted")

// EventMsg carries an engine event into the Bubble Tea loop.
type EventMsg ota.Event

// TransferConfig configures the transfer view.
type TransferConfig struct {
	Header      *Header
	Firmware    string
	TotalChunks int

	// Plain forces line-per-event output even on a terminal.
	Plain bool

	// Output defaults to os.Stdout.
	Output io.Writer
}

// TransferModel is the Bubble Tea model for a running transfer.
type TransferModel struct {
	header      string
	totalChunks int
	width       int
	devices     map[string]*DeviceProgress
	order       []string
	settled     bool
	interrupted bool
}

// NewTransferModel creates an empty model.
func NewTransferModel(header *Header, totalChunks int) TransferModel {
	width := GetTerminalWidth()
	rendered := ""
	if header != nil {
		rendered = header.SetWidth(width).Render()
	}
	return TransferModel{
		header:      rendered,
		totalChunks: totalChunks,
		width:       width,
		devices:     make(map[string]*DeviceProgress),
	}
}

// Init implements tea.Model
func (m TransferModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m TransferModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = clampWidth(msg.Width)
		for _, d := range m.devices {
			d.SetWidth(m.width)
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.interrupted = true
			return m, tea.Quit
		}
	case EventMsg:
		m.apply(ota.Event(msg))
		if m.settled {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *TransferModel) device(id string) *DeviceProgress {
	d, ok := m.devices[id]
	if !ok {
		d = NewDeviceProgress(id, m.totalChunks, m.width)
		m.devices[id] = d
		m.order = append(m.order, id)
	}
	return d
}

// apply folds one event into the model.
func (m *TransferModel) apply(ev ota.Event) {
	if ev.Type == ota.EventAllFinished {
		m.settled = true
		return
	}
	if ev.DeviceID == "" {
		return
	}

	d := m.device(ev.DeviceID)
	switch ev.Type {
	case ota.EventDeviceReady:
		d.Status = DeviceWaiting
		d.Sent = 0
		d.Retries = 0
		d.Note = ""
	case ota.EventChunkSent:
		d.Status = DeviceSending
		d.Sent = ev.Chunk + 1
		d.Retries = 0
		d.Note = ""
	case ota.EventDeviceFinished:
		d.Status = DeviceFinished
		d.Sent = d.TotalChunks
		d.Note = ""
	case ota.EventDeviceError:
		d.Note = ev.Message
	case ota.EventDeviceRetry:
		d.Retries++
		d.Note = fmt.Sprintf("retry %d", d.Retries)
	case ota.EventDeviceAbandoned:
		d.Status = DeviceAbandoned
		d.Note = "no response"
	}
}

// Settled reports whether the engine said every device is done.
func (m TransferModel) Settled() bool {
	return m.settled
}

// Interrupted reports whether the user quit the view.
func (m TransferModel) Interrupted() bool {
	return m.interrupted
}

// Device returns the progress line for id, if the device has reported.
func (m TransferModel) Device(id string) (*DeviceProgress, bool) {
	d, ok := m.devices[id]
	return d, ok
}

// View implements tea.Model
func (m TransferModel) View() string {
	var b strings.Builder
	if m.header != "" {
		b.WriteString(m.header)
		b.WriteString("\n\n")
	}

	if len(m.order) == 0 {
		b.WriteString(WaitingStyle.Render("Waiting for devices to report ready..."))
		b.WriteString("\n")
		return b.String()
	}

	for _, id := range m.order {
		b.WriteString(m.devices[id].Render())
		b.WriteString("\n")
	}
	return b.String()
}

// eventQueue is an unbounded FIFO so observers never block the engine.
type eventQueue struct {
	mu     sync.Mutex
	events []ota.Event
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev ota.Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []ota.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}

// Transfer drives either the Bubble Tea view or the plain printer.
type Transfer struct {
	config TransferConfig
	queue  *eventQueue
}

// NewTransfer creates a transfer view. It falls back to plain output when
// stdout is not a terminal.
func NewTransfer(config TransferConfig) *Transfer {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if !config.Plain && (config.Output != io.Writer(os.Stdout) || !IsTerminal()) {
		config.Plain = true
	}
	return &Transfer{config: config, queue: newEventQueue()}
}

// Observer returns an ota.Observer feeding this view.
func (t *Transfer) Observer() ota.Observer {
	return t.queue.push
}

// Run renders until every device has settled, ctx is done, or the user
// quits. It returns ErrInterrupted for a user quit and ctx.Err() for a
// cancelled context.
func (t *Transfer) Run(ctx context.Context) error {
	if t.config.Plain {
		return t.runPlain(ctx)
	}
	return t.runProgram(ctx)
}

func (t *Transfer) runProgram(ctx context.Context) error {
	model := NewTransferModel(t.config.Header, t.config.TotalChunks)
	p := tea.NewProgram(model, tea.WithOutput(t.config.Output))

	forwardCtx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		for {
			select {
			case <-forwardCtx.Done():
				p.Quit()
				return
			case <-t.queue.notify:
				for _, ev := range t.queue.drain() {
					p.Send(EventMsg(ev))
				}
			}
		}
	}()

	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("transfer view: %w", err)
	}

	m, _ := final.(TransferModel)
	switch {
	case m.Interrupted():
		return ErrInterrupted
	case m.Settled():
		return nil
	default:
		return ctx.Err()
	}
}

func (t *Transfer) runPlain(ctx context.Context) error {
	printer := NewPrinter(t.config.Output)
	if t.config.Header != nil {
		printer.Println(t.config.Header.Render())
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.queue.notify:
			for _, ev := range t.queue.drain() {
				printer.PrintEvent(ev)
				if ev.Type == ota.EventAllFinished {
					return nil
				}
			}
		}
	}
}

// Printer writes one line per notable event, for logs and pipes.
type Printer struct {
	out     io.Writer
	deciles map[string]int
	now     func() time.Time
}

// NewPrinter creates a printer writing to w, or os.Stdout if w is nil.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{out: w, deciles: make(map[string]int), now: time.Now}
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// PrintEvent writes ev. Chunk progress is printed at every 10% step so a
// large image does not flood the output.
func (p *Printer) PrintEvent(ev ota.Event) {
	if ev.Type == ota.EventChunkSent {
		if ev.TotalChunks <= 0 {
			return
		}
		decile := (ev.Chunk + 1) * 10 / ev.TotalChunks
		last, seen := p.deciles[ev.DeviceID]
		if seen && decile <= last && ev.Chunk+1 != ev.TotalChunks {
			return
		}
		p.deciles[ev.DeviceID] = decile
	}
	if ev.Type == ota.EventDeviceReady {
		delete(p.deciles, ev.DeviceID)
	}

	ts := ev.Time
	if ts.IsZero() {
		ts = p.now()
	}
	_, _ = fmt.Fprintf(p.out, "%s %s\n", ts.Format("15:04:05"), ev.String())
}
