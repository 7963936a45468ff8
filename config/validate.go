package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/use-agent/faceswap/models"
)

// Validate checks that every option the selected provider needs is present
// and well-formed. It never touches the network; a non-nil result is always
// a CONFIGURATION_ERROR SwapError.
func (c *Config) Validate() error {
	var problems []string
	missing := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, name+" is not set")
		}
	}

	missing("FACESWAP_REFERENCE_FACE", c.Provider.ReferenceFace)
	if c.Watch.Timeout <= 0 {
		problems = append(problems, "FACESWAP_TIMEOUT must be positive")
	}
	if c.Store.Dir == "" {
		problems = append(problems, "FACESWAP_STAGING_DIR is not set")
	}

	switch c.Provider.Kind {
	case ProviderPolled:
		missing("FACESWAP_PROVIDER_URL", c.Provider.BaseURL)
		missing("FACESWAP_PROVIDER_TOKEN", c.Provider.Token)
		missing("FACESWAP_PROVIDER_VERSION", c.Provider.Version)
		if c.Watch.PollInterval <= 0 {
			problems = append(problems, "FACESWAP_POLL_INTERVAL must be positive")
		}
		if c.Provider.ReferenceFace != "" && !models.IsRemote(c.Provider.ReferenceFace) {
			problems = append(problems, "FACESWAP_REFERENCE_FACE must be an http(s) URL for API providers")
		}
	case ProviderSynchronous:
		missing("FACESWAP_PROVIDER_URL", c.Provider.BaseURL)
		if c.Provider.ReferenceFace != "" && !models.IsRemote(c.Provider.ReferenceFace) {
			problems = append(problems, "FACESWAP_REFERENCE_FACE must be an http(s) URL for API providers")
		}
	case ProviderObserved:
		missing("FACESWAP_PAGE_URL", c.Observed.PageURL)
		missing("FACESWAP_SOURCE_SELECTOR", c.Observed.SourceSelector)
		missing("FACESWAP_REFERENCE_SELECTOR", c.Observed.ReferenceSelector)
		missing("FACESWAP_TRIGGER_SELECTOR", c.Observed.TriggerSelector)
		missing("FACESWAP_RESULT_PATTERN", c.Observed.ResultPattern)
		if c.Watch.FallbackTimeout <= 0 {
			problems = append(problems, "FACESWAP_FALLBACK_TIMEOUT must be positive")
		}
		problems = append(problems, checkPatterns(c.Observed)...)
	default:
		problems = append(problems, fmt.Sprintf("FACESWAP_PROVIDER %q is not one of polled, synchronous, observed", c.Provider.Kind))
	}

	if len(problems) > 0 {
		return models.NewSwapError(
			models.ErrCodeConfiguration,
			strings.Join(problems, "; "),
			nil,
		)
	}
	return nil
}

func checkPatterns(o ObservedConfig) []string {
	var problems []string
	patterns := append([]string{o.ResultPattern, o.ResponsePattern}, o.DecoyPatterns...)
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if _, err := regexp.Compile(p); err != nil {
			problems = append(problems, fmt.Sprintf("pattern %q: %v", p, err))
		}
	}
	return problems
}
