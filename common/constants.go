package common

// Queue topology. All queues are bound to one direct exchange with the
// routing key equal to the queue name, so publishing to a queue means
// publishing to the exchange with that routing key.
const (
	ExchangeName = "operandi_default_exchange"

	QueueHarvester   = "harvester_queue"
	QueueUsers       = "users_queue"
	QueueJobStatuses = "job_statuses_queue"
)

// Environment variable names consumed by the broker and its workers.
const (
	EnvRabbitMQURL = "OPERANDI_RABBITMQ_URL"
	EnvDatabaseURL = "OPERANDI_DB_URL"

	EnvHPCHost          = "OPERANDI_HPC_HOST"
	EnvHPCProxyHost     = "OPERANDI_HPC_PROXY_HOST"
	EnvHPCUsername      = "OPERANDI_HPC_USERNAME"
	EnvHPCSSHKeyPath    = "OPERANDI_HPC_SSH_KEYPATH"
	EnvHPCProjectDir    = "OPERANDI_HPC_PROJECT_ROOT_DIR"
	EnvHPCRemoteCleanup = "OPERANDI_HPC_REMOTE_CLEANUP"

	EnvServerDefaultUsername    = "OPERANDI_SERVER_DEFAULT_USERNAME"
	EnvServerDefaultPassword    = "OPERANDI_SERVER_DEFAULT_PASSWORD"
	EnvHarvesterDefaultUsername = "OPERANDI_HARVESTER_DEFAULT_USERNAME"
	EnvHarvesterDefaultPassword = "OPERANDI_HARVESTER_DEFAULT_PASSWORD"

	EnvLogsDir = "OPERANDI_LOGS_DIR"
)

// Database collection names, keyed by the respective entity id.
const (
	CollectionWorkspaces   = "workspaces"
	CollectionWorkflows    = "workflows"
	CollectionWorkflowJobs = "workflow_jobs"
	CollectionHPCSlurmJobs = "hpc_slurm_jobs"
	CollectionUsers        = "users"
)
