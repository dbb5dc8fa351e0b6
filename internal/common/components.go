package common

const (
	ComponentFetcher       = "fetcher"
	ComponentDispatcher    = "dispatcher"
	ComponentWorker        = "worker"
	ComponentDictionary    = "dictionary"
	ComponentSandbox       = "sandbox"
	ComponentIndexer       = "indexer-manager"
	ComponentRegistry      = "ds-registry"
	ComponentPOI           = "poi"
	ComponentStore         = "entity-store"
	ComponentReorgDetector = "reorg-detector"
	ComponentMaintenance   = "maintenance"
	ComponentAPI           = "api"
)

var AllComponents = map[string]struct{}{
	ComponentFetcher:       {},
	ComponentDispatcher:    {},
	ComponentWorker:        {},
	ComponentDictionary:    {},
	ComponentSandbox:       {},
	ComponentIndexer:       {},
	ComponentRegistry:      {},
	ComponentPOI:           {},
	ComponentStore:         {},
	ComponentReorgDetector: {},
	ComponentMaintenance:   {},
	ComponentAPI:           {},
}
