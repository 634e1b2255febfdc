package kashier

import (
	"github.com/mstgnz/storepay/infra/config"
	"github.com/mstgnz/storepay/provider"
)

// Register adds Kashier to the gateway factory when it is configured
func Register(f *provider.Factory, cfg config.KashierConfig, audit provider.AuditLogger) {
	if !cfg.Enabled() {
		return
	}
	f.Register(Name, func() (provider.Gateway, error) {
		k, err := New(cfg, audit)
		if err != nil {
			return nil, err
		}
		return k, nil
	})
}
