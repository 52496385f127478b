package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"capstone-hub/backend/internal/dto"
)

// 写命令与 HTTP 接口走同一 StageService，校验与冲突规则一致；CLI 使用进程内写锁，跨进程竞争由数据库约束兜底
func init() {
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a stage",
		Args:  cobra.NoArgs,
		RunE:  runCreate,
	}
	f := createCmd.Flags()
	f.String("name", "", "stage name (required)")
	f.String("description", "", "stage description")
	f.String("percentage", "", "weight label, e.g. 25% (required)")
	f.Int("order", 0, "position in the sequence, >= 1 (required)")
	f.String("start", "", "start date YYYY-MM-DD (required)")
	f.String("end", "", "end date YYYY-MM-DD (required)")
	f.Bool("inactive", false, "create the stage as inactive")
	rootCmd.AddCommand(createCmd)

	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update the given fields of a stage",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpdate,
	}
	f = updateCmd.Flags()
	f.String("name", "", "new name")
	f.String("description", "", "new description")
	f.String("percentage", "", "new weight label")
	f.Int("order", 0, "new position")
	f.String("start", "", "new start date YYYY-MM-DD")
	f.String("end", "", "new end date YYYY-MM-DD")
	f.Bool("active", true, "activate (true) or deactivate (false)")
	f.Int("version", 0, "expected version for optimistic locking")
	rootCmd.AddCommand(updateCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stage",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
	rootCmd.AddCommand(deleteCmd)
}

func runCreate(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	req := &dto.CreateStageRequest{}
	req.Name, _ = f.GetString("name")
	req.Description, _ = f.GetString("description")
	req.Percentage, _ = f.GetString("percentage")
	req.Order, _ = f.GetInt("order")
	req.StartDate, _ = f.GetString("start")
	req.EndDate, _ = f.GetString("end")
	if inactive, _ := f.GetBool("inactive"); inactive {
		active := false
		req.IsActive = &active
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stage, err := a.svc.Stage.Create(cmd.Context(), req, "stagectl")
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s (order %d, %s..%s)\n",
		stage.ID, stage.Order, stage.StartDate[:10], stage.EndDate[:10])
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	req := &dto.UpdateStageRequest{}
	str := func(name string) *string {
		if !f.Changed(name) {
			return nil
		}
		v, _ := f.GetString(name)
		return &v
	}
	num := func(name string) *int {
		if !f.Changed(name) {
			return nil
		}
		v, _ := f.GetInt(name)
		return &v
	}
	req.Name = str("name")
	req.Description = str("description")
	req.Percentage = str("percentage")
	req.StartDate = str("start")
	req.EndDate = str("end")
	req.Order = num("order")
	req.Version = num("version")
	if f.Changed("active") {
		v, _ := f.GetBool("active")
		req.IsActive = &v
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stage, err := a.svc.Stage.Update(cmd.Context(), args[0], req, "stagectl")
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "updated %s (version %d)\n", stage.ID, stage.Version)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stage, err := a.svc.Stage.Delete(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%s)\n", stage.ID, stage.Name)
	return nil
}
