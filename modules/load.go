package modules

import (
	"github.com/spkampus/portal/modules/org"
	"github.com/spkampus/portal/pkg/application"
)

// Load registers the built-in modules with app.
func Load(app application.Application, orgOptions *org.ModuleOptions) error {
	return application.LoadModules(app,
		org.NewModule(orgOptions),
	)
}
