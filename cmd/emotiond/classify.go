package main

import (
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/spf13/cobra"

	"github.com/e7canasta/emotion-sensor/internal/capture"
	"github.com/e7canasta/emotion-sensor/internal/config"
	"github.com/e7canasta/emotion-sensor/internal/core"
	"github.com/e7canasta/emotion-sensor/internal/types"
)

var classifyCmd = &cobra.Command{
	Use:   "classify IMAGE...",
	Short: "Classify the faces in still images and print the published results",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		// stills never open the camera
		cfg.Camera.Source = "mock"

		svc, err := core.NewService(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()
		svc.Controller().Start()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		for i, path := range args {
			img, err := loadImage(path)
			if err != nil {
				return err
			}

			// each image starts from an empty list
			svc.Publisher().Clear(0)
			svc.Pipeline().ProcessFrame(cmd.Context(), capture.FrameFromImage(img, uint64(i+1)))

			snap := svc.Publisher().Current()
			if err := enc.Encode(struct {
				Image   string               `json:"image"`
				Faces   int                  `json:"faces"`
				Results []types.EmotionScore `json:"results"`
			}{path, snap.Faces, snap.Results}); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}
