package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Heeyaichen/azure-qr-code-devOps/internal/config"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/deploy"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/env"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/upstream"
)

// resolveUpstream yields the infrastructure outputs and image references for a
// run. Manual runs use stub values from vars and never touch the artifact
// store; upstream-triggered runs gate on both pipelines and consume the real
// artifacts.
func resolveUpstream(ctx context.Context, logger *slog.Logger, cfg *config.Config, trig deploy.Trigger, vars env.Vars, token string) (upstream.Outputs, upstream.ImageRefs, error) {
	if trig == deploy.TriggerManual {
		outputs := upstream.OutputsFromVars(vars)
		logger.Info("manual trigger: using stub upstream outputs", "outputs", outputs.Map())
		return outputs, nil, nil
	}

	client, err := upstream.NewClient(logger, token, cfg.Repository)
	if err != nil {
		return upstream.Outputs{}, nil, err
	}

	infraRun, imagesRun, err := gateUpstream(ctx, client, cfg)
	if err != nil {
		return upstream.Outputs{}, nil, err
	}
	logger.Info("upstream pipelines verified",
		"infrastructure_run", infraRun.ID, "images_run", imagesRun.ID, "branch", cfg.Branch)

	raw, err := client.DownloadArtifact(ctx, infraRun.ID, cfg.Pipelines.Infrastructure.Artifact)
	if err != nil {
		return upstream.Outputs{}, nil, err
	}
	outputs, err := upstream.ParseOutputs(raw)
	if err != nil {
		return upstream.Outputs{}, nil, err
	}

	images := fetchImageRefs(ctx, logger, client, cfg, imagesRun)
	return outputs, images, nil
}

// gateUpstream verifies the latest run of both upstream workflows. The two
// checks have no data dependency, so they run concurrently; both must succeed
// before deployment proceeds.
func gateUpstream(ctx context.Context, client *upstream.Client, cfg *config.Config) (infra, images upstream.Run, err error) {
	type gateResult struct {
		workflow string
		run      upstream.Run
		err      error
	}

	workflows := []string{cfg.Pipelines.Infrastructure.Workflow, cfg.Pipelines.Images.Workflow}
	results := make(chan gateResult, len(workflows))
	for _, wf := range workflows {
		go func(workflow string) {
			run, err := client.LatestRun(ctx, workflow, cfg.Branch)
			if err == nil {
				err = client.VerifyRun(run)
			}
			results <- gateResult{workflow: workflow, run: run, err: err}
		}(wf)
	}

	byWorkflow := make(map[string]upstream.Run, len(workflows))
	for range workflows {
		res := <-results
		if res.err != nil && err == nil {
			err = fmt.Errorf("upstream gate: %w", res.err)
		}
		byWorkflow[res.workflow] = res.run
	}
	if err != nil {
		return upstream.Run{}, upstream.Run{}, err
	}
	return byWorkflow[cfg.Pipelines.Infrastructure.Workflow], byWorkflow[cfg.Pipelines.Images.Workflow], nil
}

// fetchImageRefs consumes the publish pipeline's artifact when one is
// configured. Absence is tolerated: configured fallback images are used with a
// warning instead of failing the run.
func fetchImageRefs(ctx context.Context, logger *slog.Logger, client *upstream.Client, cfg *config.Config, run upstream.Run) upstream.ImageRefs {
	artifact := strings.TrimSpace(cfg.Pipelines.Images.Artifact)
	if artifact == "" {
		logger.Warn("no image artifact configured, falling back to configured image references")
		return nil
	}
	raw, err := client.DownloadArtifact(ctx, run.ID, artifact)
	if err != nil {
		logger.Warn("image artifact unavailable, falling back to configured image references", "artifact", artifact, "error", err)
		return nil
	}
	refs, err := upstream.ParseImageRefs(raw)
	if err != nil {
		logger.Warn("image artifact unreadable, falling back to configured image references", "artifact", artifact, "error", err)
		return nil
	}
	return refs
}

// resolveServices maps configured services to deployable units with resolved
// image references, preserving the configured apply order.
func resolveServices(logger *slog.Logger, cfg *config.Config, images upstream.ImageRefs) ([]deploy.Service, error) {
	services := make([]deploy.Service, 0, len(cfg.Services))
	for _, svc := range cfg.Services {
		image := svc.Image
		if ref, ok := images[svc.Name]; ok {
			image = ref
		} else if len(images) > 0 {
			logger.Warn("service missing from image artifact, using configured reference", "service", svc.Name, "image", image)
		}
		services = append(services, deploy.Service{
			Name:         svc.Name,
			ManifestPath: cfg.ManifestPath(svc),
			Image:        image,
		})
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("no services resolved from config")
	}
	return services, nil
}
