package mockapi

import (
	"areahood/internal/config"
	"areahood/internal/featureflags"
	"areahood/internal/seed"
)

// FromConfig builds a server from the MOCK_* settings. Fixtures come from
// MOCK_FIXTURES when set, otherwise a neighborhood is generated.
func FromConfig(cfg *config.Config) (*Server, error) {
	var ds *seed.Dataset
	if cfg.MockFixtures != "" {
		loaded, err := seed.LoadFile(cfg.MockFixtures)
		if err != nil {
			return nil, err
		}
		ds = loaded
	} else {
		ds = seed.Generate(seed.Options{Posts: cfg.MockSeedPosts, MaxComments: 5})
	}

	return New(Options{
		Secret:   cfg.MockJWTSecret,
		Faults:   featureflags.NewManager(cfg.MockFaults),
		Latency:  cfg.MockLatency,
		Dataset:  ds,
		PageSize: cfg.PageSize,
	})
}
