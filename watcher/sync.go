package watcher

import (
	"github.com/use-agent/faceswap/models"
	"github.com/use-agent/faceswap/provider"
)

// watchSync only checks that the provider answered with a usable location.
func watchSync(job *provider.SyncJob) (models.JobStatus, error) {
	if job.ResultURL == "" {
		return providerFailure(models.Failed("provider returned no result location"))
	}
	if !models.IsRemote(job.ResultURL) {
		return providerFailure(models.Failed("provider returned an invalid result location: " + job.ResultURL))
	}
	return models.Succeeded(job.ResultURL), nil
}
