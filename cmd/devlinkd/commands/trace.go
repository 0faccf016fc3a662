package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/devlink-broker/devlink-go/pkg/log"
)

var (
	filterSession   string
	filterDevice    string
	filterJob       string
	filterLayer     string
	filterDirection string
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect binary trace logs",
	Long: `Inspect trace logs written by "devlinkd serve --trace-log".

Examples:
  # View all events
  devlinkd trace view broker.dlog

  # View only wire-layer events of one session
  devlinkd trace view --layer wire --session 7f3a broker.dlog

  # Summarize a log
  devlinkd trace stats broker.dlog`,
}

var traceViewCmd = &cobra.Command{
	Use:   "view <file.dlog>",
	Short: "Print trace events in human-readable form",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceView,
}

var traceStatsCmd = &cobra.Command{
	Use:   "stats <file.dlog>",
	Short: "Summarize a trace log",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceStats,
}

func init() {
	traceCmd.PersistentFlags().StringVar(&filterSession, "session", "", "filter by session ID")
	traceCmd.PersistentFlags().StringVar(&filterDevice, "device", "", "filter by device ID")
	traceCmd.PersistentFlags().StringVar(&filterJob, "job", "", "filter by job ID")
	traceCmd.PersistentFlags().StringVar(&filterLayer, "layer", "", "filter by layer: transport, wire, service")
	traceCmd.PersistentFlags().StringVar(&filterDirection, "direction", "", "filter by direction: in, out")

	traceCmd.AddCommand(traceViewCmd)
	traceCmd.AddCommand(traceStatsCmd)
}

func buildFilter() (log.Filter, error) {
	filter := log.Filter{
		SessionID: filterSession,
		DeviceID:  filterDevice,
		JobID:     filterJob,
	}

	switch strings.ToLower(filterLayer) {
	case "":
	case "transport":
		l := log.LayerTransport
		filter.Layer = &l
	case "wire":
		l := log.LayerWire
		filter.Layer = &l
	case "service":
		l := log.LayerService
		filter.Layer = &l
	default:
		return filter, fmt.Errorf("unknown layer %q", filterLayer)
	}

	switch strings.ToLower(filterDirection) {
	case "":
	case "in":
		d := log.DirectionIn
		filter.Direction = &d
	case "out":
		d := log.DirectionOut
		filter.Direction = &d
	default:
		return filter, fmt.Errorf("unknown direction %q", filterDirection)
	}

	return filter, nil
}

func runTraceView(cmd *cobra.Command, args []string) error {
	filter, err := buildFilter()
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(args[0], filter)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read trace log: %w", err)
		}
		fmt.Println(formatEvent(event))
	}
}

// formatEvent renders one event as a single line.
func formatEvent(e log.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-3s %-9s %-7s",
		e.Timestamp.Format(time.RFC3339Nano), e.Direction, e.Layer, e.Category)

	if e.SessionID != "" {
		fmt.Fprintf(&b, " sess=%s", shortID(e.SessionID))
	}
	if e.DeviceID != "" {
		fmt.Fprintf(&b, " dev=%s", e.DeviceID)
	}
	if e.JobID != "" {
		fmt.Fprintf(&b, " job=%s", e.JobID)
	}

	switch {
	case e.Message != nil:
		m := e.Message
		fmt.Fprintf(&b, " %s %s", m.Type, m.Method)
		if m.RequestID != "" {
			fmt.Fprintf(&b, " id=%s", m.RequestID)
		}
		if m.ErrorCode != nil {
			fmt.Fprintf(&b, " code=%d", *m.ErrorCode)
		}
		if m.Size > 0 {
			fmt.Fprintf(&b, " %dB", m.Size)
		}
		if m.ProcessingTime != nil {
			fmt.Fprintf(&b, " took=%s", *m.ProcessingTime)
		}
	case e.StateChange != nil:
		s := e.StateChange
		fmt.Fprintf(&b, " %s %s->%s", s.Entity, s.OldState, s.NewState)
		if s.Reason != "" {
			fmt.Fprintf(&b, " (%s)", s.Reason)
		}
	case e.Error != nil:
		fmt.Fprintf(&b, " %s: %s", e.Error.Context, e.Error.Message)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runTraceStats(cmd *cobra.Command, args []string) error {
	filter, err := buildFilter()
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(args[0], filter)
	if err != nil {
		return err
	}
	defer reader.Close()

	events, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read trace log: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("no events")
		return nil
	}

	byLayer := map[string]int{}
	byCategory := map[string]int{}
	byMethod := map[string]int{}
	sessions := map[string]struct{}{}
	errors := 0

	for _, e := range events {
		byLayer[e.Layer.String()]++
		byCategory[e.Category.String()]++
		if e.SessionID != "" {
			sessions[e.SessionID] = struct{}{}
		}
		if e.Message != nil && e.Message.Method != "" {
			byMethod[e.Message.Method]++
		}
		if e.Category == log.CategoryError {
			errors++
		}
	}

	first, last := events[0].Timestamp, events[len(events)-1].Timestamp
	fmt.Printf("events:   %d\n", len(events))
	fmt.Printf("span:     %s .. %s (%s)\n",
		first.Format(time.RFC3339), last.Format(time.RFC3339), last.Sub(first).Round(time.Millisecond))
	fmt.Printf("sessions: %d\n", len(sessions))
	fmt.Printf("errors:   %d\n", errors)

	printCounts("by layer", byLayer)
	printCounts("by category", byCategory)
	printCounts("by method", byMethod)
	return nil
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("\n%s:\n", title)
	for _, k := range keys {
		fmt.Printf("  %-28s %d\n", k, counts[k])
	}
}
