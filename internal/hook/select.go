package hook

import (
	"strings"

	"speechbridge/internal/config"
)

func hookMatches(lowerText string, hk *config.HookConfig) bool {
	for _, w := range hk.Wake {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && strings.Contains(lowerText, w) {
			return true
		}
	}
	return false
}

// SelectHookConfig returns the first hook whose wake tokens appear in text.
// If none match, it falls back to the first configured hook.
func SelectHookConfig(cfg *config.Config, text string) *config.HookConfig {
	if len(cfg.Hooks) == 0 {
		return nil
	}
	lower := strings.ToLower(text)
	for i := range cfg.Hooks {
		hk := &cfg.Hooks[i]
		if hookMatches(lower, hk) {
			return hk
		}
	}
	return &cfg.Hooks[0]
}
