// Package jobs holds the one-shot batch operations the CLI dispatches to.
package jobs

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"crm-automation/internal/config"
	"crm-automation/internal/secrets"
	"crm-automation/internal/services/bitrix"
	"crm-automation/internal/services/gemini"
	"crm-automation/internal/services/google"
	"crm-automation/internal/services/telegram"
	"crm-automation/internal/storage"
)

// Job is a single batch operation with a stable name for cron dispatch.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Deps bundles the shared services injected into every job. Fields a job
// does not use stay nil; the registry wires only what each constructor asks
// for.
type Deps struct {
	Config   *config.Config
	Store    *storage.Store
	Vault    *secrets.Vault
	Google   *google.Service
	Gemini   *gemini.Client
	Bitrix   *bitrix.Client
	Entities *bitrix.Entities
	Notifier *telegram.Notifier
	Logger   *zap.Logger
}

type constructor func(*Deps) Job

var registry = map[string]constructor{
	"scan":        func(d *Deps) Job { return NewScanJob(d) },
	"book":        func(d *Deps) Job { return NewBookJob(d) },
	"send":        func(d *Deps) Job { return NewSendJob(d) },
	"resend":      func(d *Deps) Job { return NewResendJob(d) },
	"bitrixsync":  func(d *Deps) Job { return NewBitrixSyncJob(d) },
	"export":      func(d *Deps) Job { return NewExportJob(d) },
	"closedeals":  func(d *Deps) Job { return NewCloseDealsJob(d) },
	"hotdeals":    func(d *Deps) Job { return NewHotDealsJob(d) },
	"importstaff": func(d *Deps) Job { return NewImportStaffJob(d) },
}

// New resolves a job by name.
func New(name string, deps *Deps) (Job, error) {
	build, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown job %q", name)
	}
	return build(deps), nil
}

// Names lists the registered jobs in stable order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
