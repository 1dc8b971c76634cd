package cli

import (
	"os"

	"github.com/spf13/cobra"

	"operandi.gwdg.de/broker/common"
	"operandi.gwdg.de/broker/worker"
)

func init() {
	RootCmd.AddCommand(workerCmd)
	workerCmd.Flags().String("queue", "", "queue name to consume from")
	workerCmd.Flags().Bool("status-checker", false, "run as the job status checker")
	workerCmd.MarkFlagRequired("queue")
}

// workerCmd runs a single worker subprocess. It is hidden: the supervisor
// spawns it by re-executing the broker binary, users never call it.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "run one queue worker (internal)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		queueName, _ := cmd.Flags().GetString("queue")
		statusChecker, _ := cmd.Flags().GetBool("status-checker")

		cfg := common.LoadConfig()
		return worker.Run(cfg, queueName, statusChecker)
	},
}

// setWorkerEnv exports the resolved connection URLs so spawned worker
// subprocesses pick them up through common.LoadConfig.
func setWorkerEnv(cfg common.Config) {
	os.Setenv(common.EnvRabbitMQURL, cfg.RabbitMQURL)
	os.Setenv(common.EnvDatabaseURL, cfg.DatabaseURL)
}
