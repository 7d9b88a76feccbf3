package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/swatch/internal/detector"
	"github.com/crimson-sun/swatch/internal/model"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		imageURL    string
		imageFile   string
		description string
		title       string
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Detect labels for an image, then classify",
		Long: `Run the configured label detector on an image and classify the
result together with the description and title.

Example:
  swatch analyze --image https://example.com/p/1.jpg --title "Red wool coat"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			img := detector.Image{URL: imageURL}
			if imageFile != "" {
				data, err := os.ReadFile(imageFile)
				if err != nil {
					return err
				}
				img.Data = data
				img.MIMEType = http.DetectContentType(data)
			}
			if img.Empty() {
				return fmt.Errorf("an image is required, use --image or --image-file")
			}
			if a.cfg.Detector.Backend == "none" {
				return fmt.Errorf("detector.backend is none; set it to vision or gemini")
			}

			ctx := cmd.Context()
			rt, err := build(ctx, a.cfg, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.engine.Analyze(ctx, img, description, title)
			if err != nil {
				return err
			}
			rec := model.Record{
				Item: model.Item{
					ImageURL:    imageURL,
					Title:       title,
					Description: description,
					Labels:      res.Labels,
				},
				Status:           model.StatusClassified,
				BasicDescription: res.BasicDescription,
				Attributes:       res.Attributes,
				Flat:             rt.engine.Taxonomy().Merge(res.Attributes),
			}
			return emit(ctx, a, rec)
		},
	}
	f := cmd.Flags()
	f.StringVar(&imageURL, "image", "", "image URL")
	f.StringVar(&imageFile, "image-file", "", "local image file")
	f.StringVarP(&description, "description", "d", "", "listing description")
	f.StringVarP(&title, "title", "t", "", "listing title")
	return cmd
}
