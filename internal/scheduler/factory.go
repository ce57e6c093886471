package scheduler

import (
	"suiterunner/internal/config"
	"suiterunner/internal/repository"
)

// NewFromConfig assembles the client stack a dashboard process embeds: an
// HTTP repository against the configured scheduling service, polled at the
// configured cadence.
func NewFromConfig(conf *config.SRConfig) *Coordinator {
	repo := repository.NewHTTPRepository(conf.Client.BaseURL, repository.Config{
		Timeout:           conf.Client.Timeout(),
		RequestsPerSecond: conf.Client.RequestsPerSecond,
		Burst:             conf.Client.Burst,
	})
	return NewCoordinator(repo, conf.Scheduler.RefreshInterval())
}
