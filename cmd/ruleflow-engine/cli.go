package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ruleflow/engine/internal/config"
	"github.com/ruleflow/engine/internal/importresolve"
	"github.com/ruleflow/engine/internal/repository"
	"github.com/ruleflow/engine/internal/rferrors"
)

// newValidateCmd parses and import-resolves every rule, ruleset, pipeline
// and registry document in the configured repository without compiling or
// running anything — the offline equivalent of the first half of
// Engine.Build, for CI and pre-deploy checks.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "parse and resolve every artifact in the configured repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			repo, closeFn, err := buildRepository(ctx, cfg.Repository)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := validateRepository(ctx, repo)
			if err != nil {
				return err
			}
			fmt.Printf("ok: %d artifacts validated\n", n)
			return nil
		},
	}
}

// newCompileCmd additionally compiles every ruleset and pipeline to IR, the
// offline equivalent of Engine.Build in full — it prints the resulting
// catalog state (not per-program sizes) and never serves decide() traffic.
func newCompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile",
		Short: "compile every artifact in the configured repository to IR",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			repo, closeFn, err := buildRepository(ctx, cfg.Repository)
			if err != nil {
				return err
			}
			defer closeFn()

			eng, err := buildEngine(ctx, cfg, repo, nil, nil, nil, nil, nil)
			if err != nil {
				return err
			}
			fmt.Printf("ok: catalog compiled, state=%s\n", eng.State())
			return nil
		},
	}
}

// validateRepository walks every artifact kind exactly as
// engine.buildCatalog does through the load phase, but stops short of
// compiling: a bad document is reported by id so an operator can fix the
// YAML rather than hunting through a full stack trace from Build.
func validateRepository(ctx context.Context, repo repository.Repository) (int, error) {
	count := 0

	ruleIDs, err := repo.ListRules(ctx)
	if err != nil {
		return count, fmt.Errorf("list rules: %w", err)
	}
	for _, id := range ruleIDs {
		if _, err := repo.LoadRule(ctx, id); err != nil {
			return count, fmt.Errorf("rule %q: %w", id, err)
		}
		count++
	}

	rulesetIDs, err := repo.ListRulesets(ctx)
	if err != nil {
		return count, fmt.Errorf("list rulesets: %w", err)
	}
	resolver := importresolve.New(repo, repo)
	for _, id := range rulesetIDs {
		doc, err := repo.LoadRuleset(ctx, id)
		if err != nil {
			return count, fmt.Errorf("ruleset %q: %w", id, err)
		}
		if _, err := resolver.ResolveExtends(ctx, doc); err != nil {
			return count, fmt.Errorf("ruleset %q extends: %w", id, err)
		}
		count++
	}

	pipelineIDs, err := repo.ListPipelines(ctx)
	if err != nil {
		return count, fmt.Errorf("list pipelines: %w", err)
	}
	for _, id := range pipelineIDs {
		if _, err := repo.LoadPipeline(ctx, id); err != nil {
			return count, fmt.Errorf("pipeline %q: %w", id, err)
		}
		count++
	}

	if _, err := repo.LoadRegistry(ctx); err != nil && !rferrors.IsKind(err, rferrors.KindNotFound) {
		return count, fmt.Errorf("registry: %w", err)
	} else if err == nil {
		count++
	}

	return count, nil
}
