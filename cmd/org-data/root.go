package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	internalserver "github.com/spkampus/portal/internal/server"
	"github.com/spkampus/portal/modules/org/services"
	"github.com/spkampus/portal/pkg/composables"
	"github.com/spkampus/portal/pkg/configuration"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "org-data",
		Short:         "Org structure migrations, bulk import and tree export",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newTreeCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}

// openRuntime wires the application from the environment. The returned
// context carries the pool so repositories outside HTTP requests find it.
func openRuntime(ctx context.Context) (context.Context, *internalserver.Runtime, error) {
	conf, err := configuration.Load([]string{".env", ".env.local"})
	if err != nil {
		return ctx, nil, withCode(exitUsage, err)
	}
	rt, err := internalserver.NewRuntime(ctx, conf, conf.Logger())
	if err != nil {
		conf.Unload()
		return ctx, nil, withCode(exitDB, err)
	}
	if rt.Pool != nil {
		ctx = composables.WithPool(ctx, rt.Pool)
	}
	rt.OnClose(conf.Unload)
	return ctx, rt, nil
}

func orgService(rt *internalserver.Runtime) *services.OrgService {
	return rt.App.Service(services.OrgService{}).(*services.OrgService)
}
