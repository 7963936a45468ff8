package provider

import (
	"net/http"

	"github.com/use-agent/faceswap/browser"
	"github.com/use-agent/faceswap/config"
	"github.com/use-agent/faceswap/matcher"
	"github.com/use-agent/faceswap/models"
)

// New selects the adapter named by cfg.Provider.Kind. b and stager are only
// needed by the observed provider.
func New(cfg *config.Config, client *http.Client, b *browser.Browser, stager Stager) (Adapter, error) {
	switch cfg.Provider.Kind {
	case config.ProviderPolled:
		return NewPolled(cfg.Provider, client), nil
	case config.ProviderSynchronous:
		return NewSynchronous(cfg.Provider, client), nil
	case config.ProviderObserved:
		if b == nil || stager == nil {
			return nil, models.NewSwapError(models.ErrCodeConfiguration, "observed provider needs a browser and a staging store", nil)
		}
		results, responses, err := matcher.FromConfig(cfg.Observed)
		if err != nil {
			return nil, models.NewSwapError(models.ErrCodeConfiguration, "invalid observed provider patterns", err)
		}
		return NewObserved(cfg.Observed, b, stager, results, responses), nil
	default:
		return nil, models.NewSwapError(models.ErrCodeConfiguration, "unknown provider kind: "+cfg.Provider.Kind, nil)
	}
}
