package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spkampus/portal/modules/org/domain/orgstructure"
	"github.com/spkampus/portal/modules/org/services"
)

type treeOptions struct {
	format     string
	scope      string
	regionID   int64
	activeOnly bool
	asOf       string
	query      string
}

func newTreeCmd() *cobra.Command {
	var opts treeOptions

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the composed org tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			return runTree(ctx, orgService(rt), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.format, "format", formatJSON, "Output format: json|yaml")
	cmd.Flags().StringVar(&opts.scope, "scope", "", "Only units of this scope and their subtrees")
	cmd.Flags().Int64Var(&opts.regionID, "region-id", 0, "Only units of this region")
	cmd.Flags().BoolVar(&opts.activeOnly, "active-only", false, "Drop inactive units and positions")
	cmd.Flags().StringVar(&opts.asOf, "as-of", "", "Resolve holders on this day (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&opts.query, "q", "", "Fuzzy unit name filter")
	return cmd
}

func (o treeOptions) filter() (services.TreeFilter, error) {
	f := services.TreeFilter{
		ActiveOnly: o.activeOnly,
		Query:      strings.TrimSpace(o.query),
	}
	if s := strings.TrimSpace(o.scope); s != "" {
		scope, err := orgstructure.ParseScope(s)
		if err != nil {
			return services.TreeFilter{}, err
		}
		f.Scope = &scope
	}
	if o.regionID != 0 {
		id := o.regionID
		f.RegionID = &id
	}
	if v := strings.TrimSpace(o.asOf); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return services.TreeFilter{}, fmt.Errorf("invalid --as-of: %w", err)
		}
		f.AsOf = t
	}
	return f, nil
}

func runTree(ctx context.Context, svc *services.OrgService, opts treeOptions, w io.Writer) error {
	format, err := parseFormat(opts.format)
	if err != nil {
		return err
	}
	filter, err := opts.filter()
	if err != nil {
		return withCode(exitUsage, err)
	}
	tree, err := svc.ComposeTree(ctx, filter)
	if err != nil {
		return withServiceCode(err)
	}
	return writeFormatted(w, format, tree)
}
