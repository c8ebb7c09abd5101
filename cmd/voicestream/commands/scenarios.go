package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-voicestream/pkg/inference"
	"github.com/teslashibe/go-voicestream/pkg/scenario"
)

var (
	scenarioSet  string
	scenarioFile string
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "Run scripted text turns and check replies and latency",
	Long: `Run a set of scripted text turns through the pipeline. Each scenario can
require a substring in the reply and a latency budget for the whole turn.
The command fails when any scenario fails.

With the mock generator, canned replies are installed so the built-in sets
pass offline.

Examples:
  TEST_MODE=true voicestream scenarios
  voicestream scenarios --preset fast --set latency
  voicestream scenarios --file scenarios.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := loadScenarios()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		p, err := newPipeline(ctx, cfg)
		if err != nil {
			return err
		}
		defer p.Close()
		if g, ok := p.Providers().Generator.(*inference.Mock); ok {
			g.Rules = scenario.MockRules()
		}

		rep := scenario.NewRunner(p, logger()).RunAll(ctx, list)
		fmt.Fprintln(cmd.OutOrStdout(), renderReport(rep))
		if !rep.OK() {
			return fmt.Errorf("%d of %d scenarios failed", rep.Failed(), len(rep.Outcomes))
		}
		return ctx.Err()
	},
}

func init() {
	f := scenariosCmd.Flags()
	f.StringVar(&scenarioSet, "set", "standard", "built-in set: "+strings.Join(scenario.Sets(), ", "))
	f.StringVar(&scenarioFile, "file", "", "YAML file of scenarios, replaces --set")
}

func loadScenarios() ([]scenario.Scenario, error) {
	if scenarioFile == "" {
		return scenario.Set(scenarioSet)
	}
	f, err := os.Open(scenarioFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return scenario.Load(f)
}

// renderReport formats one line per scenario and a summary.
func renderReport(rep scenario.Report) string {
	st := newStyles()
	var lines []string
	for _, o := range rep.Outcomes {
		mark := st.Label.Render("PASS")
		if !o.Passed {
			mark = st.Error.Render("FAIL")
		}
		line := mark + " " + st.Value.Render(o.Scenario.Name)
		if o.Latency > 0 {
			line += " " + st.Dim.Render(fmt.Sprintf("(%s)", o.Latency.Round(time.Millisecond)))
		}
		lines = append(lines, line)
		for _, f := range o.Failures {
			lines = append(lines, "     "+st.Error.Render(f))
		}
		if o.Reply != "" && !o.Passed {
			lines = append(lines, "     "+st.Dim.Render("reply: "+clip(o.Reply, 80)))
		}
	}
	lines = append(lines, "", st.Title.Render(fmt.Sprintf("Total: %d | Passed: %d | Failed: %d",
		len(rep.Outcomes), rep.Passed(), rep.Failed()))+" "+st.Dim.Render(rep.Elapsed.Round(time.Millisecond).String()))
	return st.Box.Render(strings.Join(lines, "\n"))
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
