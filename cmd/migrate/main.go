package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/config"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/migrations"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/repository"
)

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "管理日计划数据库的表结构",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "执行所有未执行的迁移",
	RunE:  runUp,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "列出所有迁移及其执行状态",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(upCmd, statusCmd)
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	if err := rootCmd.Execute(); err != nil {
		slog.Error("迁移失败", "error", err)
		os.Exit(1)
	}
}

func open() (*sql.DB, *config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("无法加载配置文件: %w", err)
	}
	if cfg.Database.Driver != "postgres" {
		return nil, nil, fmt.Errorf("驱动 %q 没有需要迁移的表结构", cfg.Database.Driver)
	}
	dbpool, err := repository.OpenPostgres(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("无法连接到数据库: %w", err)
	}
	return dbpool, cfg, nil
}

func runUp(cmd *cobra.Command, args []string) error {
	dbpool, cfg, err := open()
	if err != nil {
		return err
	}
	defer dbpool.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.Database.TransactionTimeout)*time.Second)
	defer cancel()

	done, err := migrations.Up(ctx, dbpool)
	if err != nil {
		return err
	}
	if len(done) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "表结构已是最新")
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	dbpool, cfg, err := open()
	if err != nil {
		return err
	}
	defer dbpool.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	all, err := migrations.List()
	if err != nil {
		return err
	}
	applied, err := migrations.Applied(ctx, dbpool)
	if err != nil {
		return err
	}

	for _, m := range all {
		state := "pending"
		if applied[m.Version] {
			state = "applied"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", m.Version, state)
	}
	return nil
}
