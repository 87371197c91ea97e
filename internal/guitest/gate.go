package guitest

import (
	"github.com/kuitang/catmaid-guitest/internal/config"
)

// SkipMessage is the reason given when the gate is closed.
const SkipMessage = "GUI tests are not enabled"

// Enabled reports whether GUI tests may run: they must be switched on, and
// remote runs additionally need real Sauce Labs credentials.
func Enabled(cfg *config.Config, lookup config.LookupFunc) bool {
	if cfg == nil || !cfg.GUITestsEnabled {
		return false
	}
	return !cfg.GUITestsRemote || config.CredentialsAvailable(lookup)
}
