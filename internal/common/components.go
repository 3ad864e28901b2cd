package common

const (
	ComponentDriver     = "driver"
	ComponentRPC        = "rpc"
	ComponentReorg      = "reorg-detector"
	ComponentCheckpoint = "checkpoint-store"
	ComponentHandler    = "handler"
	ComponentAPI        = "api"
	ComponentMetrics    = "metrics"
	ComponentDB         = "db"
)

var AllComponents = map[string]struct{}{
	ComponentDriver:     {},
	ComponentRPC:        {},
	ComponentReorg:      {},
	ComponentCheckpoint: {},
	ComponentHandler:    {},
	ComponentAPI:        {},
	ComponentMetrics:    {},
	ComponentDB:         {},
}
