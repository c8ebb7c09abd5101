package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-voicestream/pkg/events"
)

var replayTurn string

var replayCmd = &cobra.Command{
	Use:   "replay <trace.msgpack>",
	Short: "Summarize a recorded event trace",
	Long: `Print per-turn latency breakdowns, event counts and errors from a trace
written by 'say --trace', 'listen --trace' or GET /api/events?format=msgpack.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		evs, err := events.ReadTrace(f)
		if err != nil {
			return fmt.Errorf("read trace: %w", err)
		}
		if replayTurn != "" {
			var only []events.Event
			for _, e := range evs {
				if e.TurnID == replayTurn {
					only = append(only, e)
				}
			}
			if len(only) == 0 {
				return fmt.Errorf("turn %s not found in trace", replayTurn)
			}
			evs = only
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTrace(evs))
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayTurn, "turn", "", "only show this turn")
}
