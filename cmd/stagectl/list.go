package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"capstone-hub/backend/internal/dto"
)

func init() {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stages ordered by their order value",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	listCmd.Flags().String("at", "", "reference date (YYYY-MM-DD or RFC 3339), default now")
	rootCmd.AddCommand(listCmd)

	currentCmd := &cobra.Command{
		Use:   "current",
		Short: "Show the stage in progress at a reference date",
		Args:  cobra.NoArgs,
		RunE:  runCurrent,
	}
	currentCmd.Flags().String("at", "", "reference date (YYYY-MM-DD or RFC 3339), default now")
	rootCmd.AddCommand(currentCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	at, err := atFlag(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stages, err := a.svc.Stage.List(cmd.Context(), at)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	if len(stages) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "(no stages)")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tNAME\tPERCENTAGE\tSTART\tEND\tACTIVE\tSTATUS\tID")
	for i := range stages {
		s := &stages[i]
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			s.Order, s.Name, s.Percentage, s.StartDate[:10], s.EndDate[:10], s.IsActive, status(s), s.ID)
	}
	return w.Flush()
}

func runCurrent(cmd *cobra.Command, _ []string) error {
	at, err := atFlag(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cur, err := a.svc.Stage.GetCurrent(cmd.Context(), at)
	if err != nil {
		return fmt.Errorf("current: %w", err)
	}

	out := cmd.OutOrStdout()
	switch {
	case cur.CurrentStage != nil:
		s := cur.CurrentStage
		fmt.Fprintf(out, "%d. %s (%s) %s..%s\n", s.Order, s.Name, s.Percentage, s.StartDate[:10], s.EndDate[:10])
	case cur.AllCompleted:
		fmt.Fprintln(out, "all stages completed")
	default:
		fmt.Fprintln(out, "no stage in progress")
	}
	return nil
}

func atFlag(cmd *cobra.Command) (time.Time, error) {
	raw, _ := cmd.Flags().GetString("at")
	if raw == "" {
		return time.Now(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at: expected YYYY-MM-DD or RFC 3339, got %q", raw)
	}
	return d.Add(12 * time.Hour), nil
}

func status(s *dto.StageResponse) string {
	switch {
	case s.IsCurrentStage:
		return "current"
	case s.IsCompleted:
		return "completed"
	case s.IsUpcoming:
		return "upcoming"
	default:
		return "inactive"
	}
}
