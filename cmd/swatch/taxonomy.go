package main

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/crimson-sun/swatch/internal/config"
)

type categoryDoc struct {
	Name       string   `yaml:"name"`
	Divisor    float64  `yaml:"divisor,omitempty"`
	Candidates []string `yaml:"candidates,flow"`
}

func newTaxonomyCmd(a *app) *cobra.Command {
	var defaults bool
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Print the categories or the default attribute record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tax, err := loadTaxonomy(a.cfg.Scoring.TaxonomyPath)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			if defaults {
				b, err := json.MarshalIndent(tax.DefaultAttributes(), "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, string(b))
				return err
			}

			cats := tax.Categories()
			docs := make([]categoryDoc, len(cats))
			for i, c := range cats {
				docs[i] = categoryDoc{Name: c.Name, Candidates: c.Candidates}
				if c.Divisor != 1 {
					docs[i].Divisor = c.Divisor
				}
			}
			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			if err := enc.Encode(map[string]any{"categories": docs}); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().BoolVar(&defaults, "defaults", false, "print the zeroed flat attribute record as JSON")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		// Skips config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "swatch", config.Version)
		},
	}
}
