package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// DeviceStatus represents where a device is in its transfer
type DeviceStatus int

const (
	DeviceWaiting   DeviceStatus = iota // Announced, no chunk sent yet
	DeviceSending                       // Chunks in flight
	DeviceFinished                      // Reported success
	DeviceAbandoned                     // Gave up after retries
)

// DeviceProgress is one device's line in the transfer view
type DeviceProgress struct {
	DeviceID    string
	Status      DeviceStatus
	Sent        int    // Chunks sent so far
	TotalChunks int    // Chunks in the image
	Retries     int    // Watchdog re-sends since the device last spoke
	Note        string // Last error or retry message
	bar         progress.Model
}

// NewDeviceProgress creates a progress line for deviceID
func NewDeviceProgress(deviceID string, totalChunks int, width int) *DeviceProgress {
	d := &DeviceProgress{
		DeviceID:    deviceID,
		TotalChunks: totalChunks,
	}
	d.SetWidth(width)
	return d
}

// SetWidth resizes the bar for the terminal width
func (d *DeviceProgress) SetWidth(width int) {
	barWidth := width - DeviceNameWidth - 24 // Leave room for name, percentage and count
	if barWidth < 20 {
		barWidth = 20
	}
	if barWidth > 50 {
		barWidth = 50
	}
	d.bar = progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(barWidth),
		progress.WithoutPercentage(),
	)
}

// Percent returns progress in 0.0 - 1.0
func (d *DeviceProgress) Percent() float64 {
	if d.Status == DeviceFinished {
		return 1
	}
	if d.TotalChunks == 0 {
		return 0
	}
	p := float64(d.Sent) / float64(d.TotalChunks)
	if p > 1 {
		p = 1
	}
	return p
}

// Render returns the styled line
func (d *DeviceProgress) Render() string {
	var marker string
	var markerStyle lipgloss.Style

	switch d.Status {
	case DeviceFinished:
		marker, markerStyle = MarkerFinished, DeviceFinishedStyle
	case DeviceAbandoned:
		marker, markerStyle = MarkerAbandoned, DeviceFailedStyle
	default:
		marker, markerStyle = MarkerActive, DeviceActiveStyle
		if d.Retries > 0 {
			marker = MarkerRetry
		}
	}

	var b strings.Builder
	b.WriteString(DeviceNameStyle.Render(truncate(d.DeviceID, DeviceNameWidth)))
	b.WriteString(d.bar.ViewAs(d.Percent()))
	b.WriteString(fmt.Sprintf("  %3.0f%%  [%d/%d] ", d.Percent()*100, d.Sent, d.TotalChunks))
	b.WriteString(markerStyle.Render(marker))

	if d.Note != "" {
		b.WriteString("  ")
		b.WriteString(NoteStyle.Render("(" + d.Note + ")"))
	}
	return b.String()
}

// String implements fmt.Stringer
func (d *DeviceProgress) String() string {
	return d.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
