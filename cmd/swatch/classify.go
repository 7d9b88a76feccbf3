package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/crimson-sun/swatch/internal/model"
)

func newClassifyCmd(a *app) *cobra.Command {
	var (
		labelFlags  []string
		labelsFile  string
		description string
		title       string
	)
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Score one listing from labels, description and title",
		Long: `Score one listing against every taxonomy category.

Labels are given as description:score pairs, or as a JSON array of
{"description", "score"} objects in a file. A label without a score
counts as fully confident.

Example:
  swatch classify --label Red:0.93 --label Coat:0.8 \
    --title "Red wool coat" --description "Warm coat for winter."`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			labels, err := parseLabels(labelFlags)
			if err != nil {
				return err
			}
			if labelsFile != "" {
				fromFile, err := readLabelsFile(labelsFile)
				if err != nil {
					return err
				}
				labels = append(labels, fromFile...)
			}

			ctx := cmd.Context()
			rt, err := build(ctx, a.cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			attrs, err := rt.engine.Classify(ctx, labels, description, title)
			if err != nil {
				return err
			}
			rec := model.Record{
				Item:             model.Item{Title: title, Description: description, Labels: labels},
				Status:           model.StatusClassified,
				BasicDescription: rt.engine.BasicDescription(labels),
				Attributes:       attrs,
				Flat:             rt.engine.Taxonomy().Merge(attrs),
			}
			return emit(ctx, a, rec)
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&labelFlags, "label", "l", nil, "detector label as description:score (repeatable)")
	f.StringVar(&labelsFile, "labels-file", "", "JSON file with a label array")
	f.StringVarP(&description, "description", "d", "", "listing description")
	f.StringVarP(&title, "title", "t", "", "listing title")
	return cmd
}

// parseLabels reads "Red:0.93" pairs. The score is taken after the last
// colon so descriptions may contain colons.
func parseLabels(raw []string) ([]model.DetectedLabel, error) {
	labels := make([]model.DetectedLabel, 0, len(raw))
	for _, s := range raw {
		desc, score := s, 1.0
		if i := strings.LastIndex(s, ":"); i >= 0 {
			v, err := strconv.ParseFloat(strings.TrimSpace(s[i+1:]), 64)
			if err != nil {
				return nil, fmt.Errorf("label %q: bad score: %w", s, err)
			}
			desc, score = s[:i], v
		}
		desc = strings.TrimSpace(desc)
		if desc == "" {
			return nil, fmt.Errorf("label %q: empty description", s)
		}
		if score < 0 || score > 1 {
			return nil, fmt.Errorf("label %q: score must be within [0, 1]", s)
		}
		labels = append(labels, model.DetectedLabel{Description: desc, Score: score})
	}
	return labels, nil
}

func readLabelsFile(path string) ([]model.DetectedLabel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var labels []model.DetectedLabel
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("labels file %s: %w", path, err)
	}
	return labels, nil
}

// emit writes one record through the configured output.
func emit(ctx context.Context, a *app, rec model.Record) error {
	out, err := buildOutput(a.cfg.Output)
	if err != nil {
		return err
	}
	if err := out.Write(ctx, rec); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
