package commitments

const (
	Env_AwsEndpoint    = "AWS_ENDPOINT"
	Env_AwsRegion      = "AWS_REGION"
	Env_Env            = "ENV"
	Env_LogLevel       = "LOG_LEVEL"
	Env_Deployer       = "LEDGER_DEPLOYER"
	Env_ValueSources   = "LEDGER_VALUE_SOURCES"
	Env_RelayEnabled   = "RELAY_ENABLED"
	Env_RelayTopic     = "RELAY_PUBSUB_TOPIC"
	Env_ArchiveEnabled = "RELAY_ARCHIVE_ENABLED"
	Env_IpfsAddr       = "IPFS_ADDR"
	Env_ClaimWorkers   = "CLAIM_WORKERS"
)

const (
	EnvTag_Dev  = "dev"
	EnvTag_Qa   = "qa"
	EnvTag_Prod = "prod"
)
