package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hitchin999/unifi-connect-display/internal/capability"
)

func newModelsCmd() *cobra.Command {
	var (
		file   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "models",
		Short: "Validate and print the capability registry",
		Long: `Loads the models file (or the built-in catalogue when --file is not set),
validates it and prints each model with its capabilities and actions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := loadRegistry(file)
			if err != nil {
				return err
			}
			descs, err := describeAll(registry)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(descs)
			}
			return printModels(cmd.OutOrStdout(), descs)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Models file to validate (default: built-in catalogue)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")

	return cmd
}

func describeAll(registry *capability.Registry) ([]capability.Description, error) {
	models := registry.Models()
	descs := make([]capability.Description, 0, len(models))
	for _, m := range models {
		d, err := registry.Describe(m)
		if err != nil {
			return nil, fmt.Errorf("describing %s: %w", m, err)
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func printModels(w io.Writer, descs []capability.Description) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tCAPABILITIES\tACTIONS")
	for _, d := range descs {
		caps := make([]string, 0, len(d.Capabilities))
		for _, c := range d.Capabilities {
			caps = append(caps, string(c))
		}
		actions := make([]string, 0, len(d.Actions))
		for a := range d.Actions {
			actions = append(actions, string(a))
		}
		sort.Strings(actions)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Model, strings.Join(caps, ","), strings.Join(actions, ","))
	}
	return tw.Flush()
}
