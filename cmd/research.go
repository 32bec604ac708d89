package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ai-Whisperers/LangAi-sub013/config"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/research"
	srv "github.com/Ai-Whisperers/LangAi-sub013/internal/server"
)

func researchCMD() *cobra.Command {
	var (
		cfgPath  string
		depth    string
		sections []string
		asJSON   bool
		wait     time.Duration
	)
	var cmd = &cobra.Command{
		Use:   "research [subject]",
		Short: "Research a subject once and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			cfg.Storage.Backend = "memory"
			logger := log.New(os.Stderr, "", log.LstdFlags)

			ctx, cancel := context.WithTimeout(context.Background(), wait)
			defer cancel()

			engine, err := srv.BuildEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			engine.Manager.Start()
			defer func() {
				stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
				defer stop()
				engine.Manager.Stop(stopCtx)
			}()

			req := research.Request{
				Subject: research.Subject{Name: strings.Join(args, " ")},
				Depth:   research.Depth(depth),
			}
			for _, s := range sections {
				req.Sections = append(req.Sections, research.SectionKind(s))
			}

			id, err := engine.Manager.Submit(ctx, req)
			if err != nil {
				return err
			}

			ch, unsub := engine.Bus.Subscribe(id)
			defer unsub()
			for ev := range ch {
				if ev.Terminal {
					break
				}
				fmt.Fprintf(os.Stderr, "  %3d%% %s %s\n", ev.Percent, ev.Stage, ev.Message)
			}

			task, err := engine.Manager.Get(context.Background(), id)
			if err != nil {
				return err
			}
			if task.Status == research.StatusFailed {
				return fmt.Errorf("research failed: %s", task.Error)
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(task)
			}
			printReport(task)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")
	cmd.Flags().StringVarP(&depth, "depth", "d", "standard", "research depth: quick, standard, comprehensive")
	cmd.Flags().StringSliceVarP(&sections, "sections", "s", nil, "sections to research (default derived from depth)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full task record as JSON")
	cmd.Flags().DurationVar(&wait, "timeout", 10*time.Minute, "overall run timeout")
	return cmd
}

func printReport(task *research.Task) {
	fmt.Printf("# %s\n\n", task.Subject.String())
	fmt.Printf("status: %s", task.Status)
	if task.QualityScore != nil {
		fmt.Printf("  quality: %d/100", *task.QualityScore)
	}
	fmt.Printf("  iterations: %d\n\n", task.Iteration)

	if task.Result == nil {
		return
	}
	fmt.Printf("## Summary\n\n%s\n", task.Result.Summary)
	for _, sec := range task.Result.Sections {
		fmt.Printf("\n## %s (score %d)\n\n%s\n", titleCase(string(sec.Kind)), sec.Score, sec.Content)
		for _, src := range sec.Sources {
			fmt.Printf("- %s (%s)\n", src.Title, src.URL)
		}
	}
	if len(task.Result.Gaps) > 0 {
		fmt.Printf("\n## Gaps\n\n")
		for _, g := range task.Result.Gaps {
			fmt.Printf("- [%s] %s: %s\n", g.Kind, g.Section, g.Detail)
		}
	}
	if len(task.Result.Conflicts) > 0 {
		fmt.Printf("\n## Unresolved conflicts\n\n")
		for _, c := range task.Result.Conflicts {
			fmt.Printf("- %s: %s\n", c.Section, c.Description)
		}
	}
	fmt.Printf("\ntokens: %d  cost: $%.4f\n", task.Result.TokensUsed, task.Result.CostEstimate)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
