package paymob

import (
	"github.com/mstgnz/storepay/infra/config"
	"github.com/mstgnz/storepay/provider"
)

// Register adds Paymob to the gateway factory when it is configured
func Register(f *provider.Factory, cfg config.PaymobConfig, audit provider.AuditLogger) {
	if !cfg.Enabled() {
		return
	}
	f.Register(Name, func() (provider.Gateway, error) {
		p, err := New(cfg, audit)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}
