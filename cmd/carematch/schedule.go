package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ehr/carematch/internal/domain/demand"
	"github.com/ehr/carematch/internal/domain/matching"
)

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run a scheduling backlog against a practice",
		Long: "Reads a backlog of pending requests and books each one, most urgent first.\n" +
			"Prints one JSON line per outcome followed by a summary line. Individual\n" +
			"patients that cannot be scheduled do not make the command fail.",
		RunE: func(cmd *cobra.Command, args []string) error {
			practiceID, _ := cmd.Flags().GetString("practice")
			backlogPath, _ := cmd.Flags().GetString("backlog")
			practicePath, _ := cmd.Flags().GetString("practice-file")
			if practiceID == "" || backlogPath == "" {
				return fmt.Errorf("--practice and --backlog are required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if practicePath != "" {
				p, err := readPractice(practicePath)
				if err != nil {
					return err
				}
				if p.ID == "" {
					p.ID = practiceID
				}
				if p.ID != practiceID {
					return fmt.Errorf("practice file holds %s, not %s", p.ID, practiceID)
				}
				if err := a.service.ImportPractice(ctx, p); err != nil {
					return err
				}
			}

			reqs, err := readBacklog(backlogPath)
			if err != nil {
				return err
			}
			outcomes, err := a.service.Schedule(ctx, practiceID, reqs)
			if err != nil {
				return fmt.Errorf("schedule practice %s: %w", practiceID, err)
			}
			return writeOutcomes(cmd.OutOrStdout(), outcomes)
		},
	}
	cmd.Flags().String("practice", "", "Practice identifier")
	cmd.Flags().String("backlog", "", "Path to the JSON backlog, or - for stdin")
	cmd.Flags().String("practice-file", "", "Import this practice snapshot before scheduling")
	return cmd
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

func readPractice(path string) (*matching.Practice, error) {
	f, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var p matching.Practice
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode practice %s: %w", path, err)
	}
	return &p, nil
}

func readBacklog(path string) ([]matching.Request, error) {
	f, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read backlog %s: %w", path, err)
	}
	reqs, err := parseBacklog(data)
	if err != nil {
		return nil, fmt.Errorf("decode backlog %s: %w", path, err)
	}
	return reqs, nil
}

// parseBacklog accepts a bare array of requests or {"requests": [...]}.
func parseBacklog(data []byte) ([]matching.Request, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var reqs []matching.Request
		if err := json.Unmarshal(data, &reqs); err != nil {
			return nil, err
		}
		return reqs, nil
	}
	var wrapped struct {
		Requests []matching.Request `json:"requests"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Requests, nil
}

func writeOutcomes(w io.Writer, outcomes []matching.Outcome) error {
	enc := json.NewEncoder(w)
	for _, o := range outcomes {
		if err := enc.Encode(o); err != nil {
			return err
		}
	}
	return enc.Encode(struct {
		Summary matching.Summary `json:"summary"`
	}{matching.Summarize(outcomes)})
}

func forecastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Weekly referral counts with a rolling average forecast",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, _ := cmd.Flags().GetString("input")
			column, _ := cmd.Flags().GetString("column")
			window, _ := cmd.Flags().GetInt("window")

			f, err := openInput(input)
			if err != nil {
				return err
			}
			defer f.Close()

			dates, err := demand.ReadDates(f, column)
			if err != nil {
				return err
			}
			weeks, err := demand.Weekly(dates, window)
			if err != nil {
				return err
			}
			printForecast(cmd.OutOrStdout(), weeks)
			return nil
		},
	}
	cmd.Flags().String("input", "-", "Referral CSV export, or - for stdin")
	cmd.Flags().String("column", demand.DefaultDateColumn, "Column holding the referral date")
	cmd.Flags().Int("window", 4, "Rolling average window in weeks")
	return cmd
}

func printForecast(w io.Writer, weeks []demand.WeekDemand) {
	fmt.Fprintf(w, "%-6s %-4s %-6s %-12s %s\n", "YEAR", "WEEK", "COUNT", "ROLLING_AVG", "PREDICTED")
	for _, wk := range weeks {
		predicted := "-"
		if wk.Predicted != nil {
			predicted = fmt.Sprintf("%.2f", *wk.Predicted)
		}
		fmt.Fprintf(w, "%-6d %-4d %-6d %-12.2f %s\n", wk.Year, wk.Week, wk.Count, wk.RollingAvg, predicted)
	}
	if next, ok := demand.Next(weeks); ok {
		fmt.Fprintf(w, "next week: %.2f\n", next)
	}
}
