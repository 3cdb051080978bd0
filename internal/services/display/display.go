// Package display renders the node status view on a local screen.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
)

// Renderer draws one frame. An error marks the display as faulty (DISPLAY flag).
type Renderer interface {
	Render(v model.StatusView) error
}

// Terminal renders to a writer. On a TTY it redraws in place with colors,
// otherwise it prints plain lines only when the frame changes.
type Terminal struct {
	out    io.Writer
	styled bool
	last   string

	title lipgloss.Style
	label lipgloss.Style
	value lipgloss.Style
	alert lipgloss.Style
	box   lipgloss.Style
}

func NewTerminal(out io.Writer) *Terminal {
	styled := false
	if f, ok := out.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &Terminal{
		out:    out,
		styled: styled,
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),
		label: lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		value: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		alert: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
	}
}

func (t *Terminal) Render(v model.StatusView) error {
	if !t.styled {
		frame := Plain(v)
		if frame == t.last {
			return nil
		}
		t.last = frame
		_, err := io.WriteString(t.out, frame)
		return err
	}
	_, err := io.WriteString(t.out, "\x1b[H\x1b[2J"+t.styledFrame(v)+"\n")
	return err
}

// Plain is the unstyled frame: the same lines the OLED panel shows.
func Plain(v model.StatusView) string {
	var s strings.Builder
	if v.Errors != 0 {
		fmt.Fprintf(&s, "Error: 0x%02X %s\n", v.Errors, v.ErrorText)
	}
	fmt.Fprintf(&s, "Link: %s  Mode: %s\n", linkText(v), v.Mode)
	fmt.Fprintf(&s, "Zones: %s\n", zoneBits(v))
	fmt.Fprintf(&s, "Temp: %.1fC  Hum: %.0f%%\n", v.AirTemp, v.AirHumidity)
	fmt.Fprintf(&s, "Soil: %.1f%%  %.1fC\n", v.Moisture, v.SoilTemp)
	fmt.Fprintf(&s, "Flow: %.1fL/m  Used: %.1fL\n", v.FlowRate, v.WaterUsed)
	return s.String()
}

func (t *Terminal) styledFrame(v model.StatusView) string {
	var s strings.Builder
	s.WriteString(t.title.Render("IRRIGATION NODE " + v.DeviceID))
	s.WriteString("\n\n")

	var body strings.Builder
	fmt.Fprintf(&body, "%s %s   %s %s\n",
		t.label.Render("Link:"), t.value.Render(linkText(v)),
		t.label.Render("Mode:"), t.value.Render(v.Mode))
	errText := t.value.Render("OK")
	if v.Errors != 0 {
		errText = t.alert.Render(fmt.Sprintf("0x%02X %s", v.Errors, v.ErrorText))
	}
	fmt.Fprintf(&body, "%s %s\n", t.label.Render("Errors:"), errText)
	fmt.Fprintf(&body, "%s %s   %s %s\n",
		t.label.Render("Air:"), t.value.Render(fmt.Sprintf("%.1fC %.0f%%", v.AirTemp, v.AirHumidity)),
		t.label.Render("Soil:"), t.value.Render(fmt.Sprintf("%.1f%% %.1fC", v.Moisture, v.SoilTemp)))
	fmt.Fprintf(&body, "%s %s   %s %s",
		t.label.Render("Flow:"), t.value.Render(fmt.Sprintf("%.1f L/min", v.FlowRate)),
		t.label.Render("Used:"), t.value.Render(fmt.Sprintf("%.1f L", v.WaterUsed)))
	if v.Raining {
		body.WriteString("   " + t.alert.Render("RAIN"))
	}
	s.WriteString(t.box.Render(body.String()))
	s.WriteString("\n")

	var zones []string
	for _, z := range v.Zones {
		line := fmt.Sprintf("Z%d idle", z.ID)
		if z.Active {
			line = t.value.Render(fmt.Sprintf("Z%d on %ds", z.ID, z.RemainingMS/1000))
		} else if z.LastReason != "" {
			line = t.alert.Render(fmt.Sprintf("Z%d %s", z.ID, z.LastReason))
		}
		zones = append(zones, t.box.Render(line))
	}
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, zones...))
	return s.String()
}

func linkText(v model.StatusView) string {
	if entities.ErrorFlag(v.Errors).Has(entities.FlagLink) {
		return "Disconnected"
	}
	return "Connected"
}

func zoneBits(v model.StatusView) string {
	var b strings.Builder
	for _, z := range v.Zones {
		if z.Active {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
