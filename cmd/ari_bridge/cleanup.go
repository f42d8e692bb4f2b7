package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var cleanupTimeout time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Завершить каналы внешнего медиа, оставшиеся от прошлых запусков",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := buildApp(nil)
		if err != nil {
			return err
		}
		defer a.closeLog()

		ctx, cancel := context.WithTimeout(cmd.Context(), cleanupTimeout)
		defer cancel()

		// Реестр пуст, поэтому все каналы внешнего медиа приложения считаются осиротевшими
		recovered, err := a.orchestrator.RecoverOrphans(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("Очистка завершена", slog.Int("recovered", recovered))
		fmt.Fprintf(cmd.OutOrStdout(), "завершено каналов: %d\n", recovered)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupTimeout, "timeout", 30*time.Second, "общий таймаут очистки")
}
