package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/teslashibe/go-voicestream/pkg/events"
	"github.com/teslashibe/go-voicestream/pkg/voice"
)

type styles struct {
	Title lipgloss.Style
	Label lipgloss.Style
	Value lipgloss.Style
	Error lipgloss.Style
	Dim   lipgloss.Style
	Box   lipgloss.Style
}

func newStyles() styles {
	primary := lipgloss.Color("#00ff9f")
	dim := lipgloss.Color("#6e7681")
	return styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(primary),
		Label: lipgloss.NewStyle().Bold(true).Foreground(primary),
		Value: lipgloss.NewStyle(),
		Error: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f")),
		Dim:   lipgloss.NewStyle().Foreground(dim),
		Box:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(primary).Padding(0, 1),
	}
}

// stageOrder is the display order of latency breakdown keys.
var stageOrder = []string{
	events.StageTranscription,
	events.StageFirstToken,
	events.StageGeneration,
	events.StageFirstAudio,
	events.StageSynthesisTotal,
	events.StageTurn,
}

// renderTurn formats a finished turn and its latency breakdown.
func renderTurn(res *voice.Result, breakdown map[string]time.Duration) string {
	st := newStyles()
	var lines []string

	status := st.Value.Render(string(res.Outcome))
	if !res.OK() {
		status = st.Error.Render(string(res.Outcome))
	}
	lines = append(lines, st.Title.Render("turn "+res.TurnID)+" "+status)

	if res.Transcript != "" {
		lines = append(lines, row(st, "heard", res.Transcript))
	}
	for _, seg := range res.Segments {
		lines = append(lines, row(st, fmt.Sprintf("#%d", seg.Ordinal),
			seg.Text+" "+st.Dim.Render(fmt.Sprintf("(%s audio)", seg.Audio.Duration().Round(time.Millisecond)))))
	}
	if res.Truncated {
		lines = append(lines, st.Error.Render("reply truncated"))
	}
	if res.Err != nil {
		lines = append(lines, row(st, "error", st.Error.Render(res.Err.Error())))
	}

	if table := renderBreakdown(st, breakdown); table != "" {
		lines = append(lines, "", table)
	}
	return st.Box.Render(strings.Join(lines, "\n"))
}

func renderBreakdown(st styles, breakdown map[string]time.Duration) string {
	var lines []string
	for _, stage := range stageOrder {
		d, ok := breakdown[stage]
		if !ok {
			continue
		}
		lines = append(lines, row(st, stage, d.Round(time.Millisecond).String()))
	}
	return strings.Join(lines, "\n")
}

// renderTrace formats a recorded trace: one breakdown per turn followed by
// event counts and errors.
func renderTrace(evs []events.Event) string {
	st := newStyles()
	var blocks []string

	var turns []string
	byTurn := make(map[string][]events.Event)
	for _, e := range evs {
		if _, ok := byTurn[e.TurnID]; !ok {
			turns = append(turns, e.TurnID)
		}
		byTurn[e.TurnID] = append(byTurn[e.TurnID], e)
	}
	for _, id := range turns {
		tevs := byTurn[id]
		outcome := "incomplete"
		for _, e := range tevs {
			if tc, ok := e.Payload.(events.TurnComplete); ok {
				outcome = tc.Outcome
				if tc.Truncated {
					outcome += " (truncated)"
				}
			}
		}
		lines := []string{st.Title.Render("turn "+id) + " " + st.Dim.Render(outcome)}
		if table := renderBreakdown(st, events.LatencyBreakdown(tevs)); table != "" {
			lines = append(lines, table)
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}

	sum := events.Summarize(evs)
	counts := []string{st.Title.Render(fmt.Sprintf("%d events", sum.Total))}
	for _, t := range sum.Types() {
		counts = append(counts, row(st, string(t), fmt.Sprint(sum.Counts[t])))
	}
	blocks = append(blocks, strings.Join(counts, "\n"))

	if len(sum.Errors) > 0 {
		errs := []string{st.Error.Render(fmt.Sprintf("%d errors", len(sum.Errors)))}
		for _, e := range sum.Errors {
			errs = append(errs, row(st, e.Stage, e.Kind+": "+e.Message))
		}
		blocks = append(blocks, strings.Join(errs, "\n"))
	}

	return st.Box.Render(strings.Join(blocks, "\n\n"))
}

func row(st styles, label, value string) string {
	return st.Label.Width(18).Render(label) + st.Value.Render(value)
}

