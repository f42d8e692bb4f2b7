// Команда ari_bridge соединяет звонки Asterisk с распознаванием и синтезом речи.
//
// Использование:
//
//	ari_bridge serve   --config bridge.yaml
//	ari_bridge cleanup --config bridge.yaml
//	ari_bridge version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:           "ari_bridge",
	Short:         "Мост между Asterisk ARI и речевыми сервисами",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "путь к YAML конфигурации")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "файл переменных окружения")

	rootCmd.AddCommand(serveCmd, cleanupCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Ошибка:", err)
		os.Exit(1)
	}
}
