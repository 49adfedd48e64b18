package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vibecoder/research-engine/config"
	"github.com/vibecoder/research-engine/internal/agent"
	srv "github.com/vibecoder/research-engine/internal/server"
	"github.com/vibecoder/research-engine/internal/session"
	"github.com/vibecoder/research-engine/internal/telemetry"
)

func main() {
	root := &cobra.Command{Use: "research-engine"}

	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serveAddr == "" {
				serveAddr = os.Getenv("RESEARCH_ENGINE_HTTP_ADDR")
			}
			return srv.Run(serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	research := &cobra.Command{
		Use:   "research [topic]",
		Short: "Run the research pipeline once and print the cited report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.Join(args, " ")

			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			provider, err := agent.NewProvider(ctx, cfg.LLM)
			if err != nil {
				return err
			}

			tele := telemetry.New(cfg.Telemetry)
			logger := log.New(os.Stderr, "[PIPELINE] ", log.LstdFlags)
			pipeline := agent.NewPipeline(cfg, provider, tele, logger)

			sess := session.New()
			report, err := pipeline.Run(ctx, sess, topic)
			if err != nil {
				return err
			}

			fmt.Println(report)
			return nil
		},
	}

	root.AddCommand(serve, research)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
