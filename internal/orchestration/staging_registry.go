package orchestration

import (
	"log"
	"os"
	"sync"

	"github.com/nucleus/socrata-core/pkg/staging"
)

var (
	defaultStagingRegistry     *staging.Registry
	defaultStagingRegistryOnce sync.Once
)

// DefaultStagingRegistry returns the shared staging registry (memory, object-store).
func DefaultStagingRegistry() *staging.Registry {
	defaultStagingRegistryOnce.Do(func() {
		defaultStagingRegistry = BuildStagingRegistry(os.Getenv("SOCRATA_STAGING_DIR"))
	})
	return defaultStagingRegistry
}

// BuildStagingRegistry constructs the staging registry with all available
// providers. The memory provider serves small runs; object-store staging
// serves anything above the large-run threshold.
func BuildStagingRegistry(objectRoot string) *staging.Registry {
	reg := staging.NewRegistry()

	reg.Register(staging.NewMemoryProvider(staging.DefaultMemoryCapBytes))

	objectStore, err := staging.NewObjectStoreProvider(objectRoot)
	if err != nil {
		log.Printf("[staging-registry] object-store provider unavailable: %v", err)
	} else {
		reg.Register(objectStore)
	}

	return reg
}
