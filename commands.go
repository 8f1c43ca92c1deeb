package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"ShortsStudio-server/config"
	"ShortsStudio-server/routers"
	"ShortsStudio-server/service"

	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "shorts-studio",
		Short:         "Story -> storyboard -> images -> video backend",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			config.AppConfig = cfg
			return nil
		},
		RunE: func(c *cobra.Command, _ []string) error { return runServe() },
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to config.yaml")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newProjectsCmd())
	cmd.AddCommand(newStoryboardCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and image job workers",
		RunE:  func(c *cobra.Command, _ []string) error { return runServe() },
	}
}

func runServe() error {
	cfg := config.AppConfig
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.startWorkers(); err != nil {
		return err
	}
	r := routers.InitRouter(a.handler(), cfg.Data.OutputsDir)
	log.Println("Server starting on port", cfg.Server.Port)
	return r.Run(cfg.Server.Port)
}

func newProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Inspect stored projects",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all projects",
		RunE: func(c *cobra.Command, _ []string) error {
			a, err := buildApp(config.AppConfig)
			if err != nil {
				return err
			}
			defer a.Close()
			projects, err := a.projects.List(c.Context())
			if err != nil {
				return err
			}
			for _, p := range projects {
				fmt.Fprintf(c.OutOrStdout(), "%s\t%s\t%s\t%s\n", p.ID, p.Status, p.Mode, p.Title)
			}
			return nil
		},
	})
	return cmd
}

func newStoryboardCmd() *cobra.Command {
	var (
		file     string
		title    string
		minShots int
		project  string
	)
	cmd := &cobra.Command{
		Use:   "storyboard",
		Short: "Generate a storyboard and image prompts from a story file",
		RunE: func(c *cobra.Command, _ []string) error {
			story, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read story: %w", err)
			}
			a, err := buildApp(config.AppConfig)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := c.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			result, err := a.storyboard.Generate(ctx, service.StoryboardRequest{
				ProjectID:        project,
				Title:            title,
				Story:            string(story),
				MinShotsPerScene: minShots,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(c.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "story text file")
	cmd.Flags().StringVar(&title, "title", "", "storyboard title")
	cmd.Flags().IntVar(&minShots, "min-shots", 1, "minimum number of cuts")
	cmd.Flags().StringVar(&project, "project", "", "write the result into this project")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
