package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PhantomInTheWire/reage-pipeline/pkg/kube"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/storage"
)

func newSubmitCmd(a *app) *cobra.Command {
	var (
		f            processFlags
		kind         string
		backoffLimit int32
		dryRun       bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Run a re-aging job as a Kubernetes batch Job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.validate(); err != nil {
				return err
			}
			if kind != "image" && kind != "video" {
				return fmt.Errorf("--kind must be image or video, got %q", kind)
			}
			for _, loc := range []string{f.in, f.out} {
				if _, _, ok := storage.ParseURI(loc); !ok {
					return fmt.Errorf("cluster jobs need s3:// locations, got %q", loc)
				}
			}

			_, key, _ := storage.ParseURI(f.in)
			job := kube.BuildJob(a.jobSpec(kind, key, f, backoffLimit))

			if dryRun {
				out, err := json.MarshalIndent(job, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return err
			}

			client, err := kube.NewClientset(a.cfg.Kube.Kubeconfig)
			if err != nil {
				return err
			}
			created, err := kube.Submit(cmd.Context(), client, job)
			if err != nil {
				return err
			}
			a.logger.Info("job created",
				zap.String("job", created.Name),
				zap.String("namespace", created.Namespace),
				zap.String("in", f.in))
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&kind, "kind", "image", "image or video")
	cmd.Flags().Int32Var(&backoffLimit, "backoff-limit", 2, "pod retries before the job fails")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the Job instead of creating it")
	return cmd
}

func (a *app) jobSpec(kind, key string, f processFlags, backoffLimit int32) kube.JobSpec {
	k, p := a.cfg.Kube, a.cfg.Pipeline
	return kube.JobSpec{
		Name:         kube.SanitizeName(key),
		Namespace:    k.Namespace,
		Image:        k.Image,
		Kind:         kind,
		Input:        f.in,
		Output:       f.out,
		Ages:         f.ages,
		Window:       p.WindowSize,
		Stride:       p.Stride,
		Workers:      p.Workers,
		Blend:        p.Blend,
		TileTimeout:  p.TileTimeout,
		FramePolicy:  p.FramePolicy,
		FrameWorkers: p.FrameWorkers,
		ModelBucket:  k.ModelBucket,
		SecretName:   k.SecretName,
		BackoffLimit: backoffLimit,
	}
}
