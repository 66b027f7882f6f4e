package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PhantomInTheWire/reage-pipeline/pkg/model"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/pipeline"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/queue"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/video"
)

const (
	claimInterval = 30 * time.Second
	claimMinIdle  = 5 * time.Minute
)

func (a *app) openQueue(ctx context.Context) (*queue.Queue, error) {
	q, err := queue.New(ctx, a.cfg.Queue.Addr, a.cfg.Queue.Stream, a.cfg.Queue.Group, a.logger)
	if err != nil {
		return nil, err
	}
	if err := q.EnsureGroup(ctx); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

func newEnqueueCmd(a *app) *cobra.Command {
	var (
		f    processFlags
		kind string
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a re-aging job for the worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.validate(); err != nil {
				return err
			}
			ctx := cmd.Context()
			q, err := a.openQueue(ctx)
			if err != nil {
				return err
			}
			defer q.Close()

			job, err := q.Enqueue(ctx, queue.Job{
				Kind:   queue.Kind(kind),
				Input:  f.in,
				Output: f.out,
				Ages:   f.ages,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), job.ID)
			return err
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&kind, "kind", string(queue.KindImage), "image or video")
	return cmd
}

func newWorkerCmd(a *app) *cobra.Command {
	var (
		consumer string
		vio      videoIO
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if consumer == "" {
				consumer = defaultConsumer()
			}
			q, err := a.openQueue(ctx)
			if err != nil {
				return err
			}
			defer q.Close()

			m, err := a.openModel()
			if err != nil {
				return err
			}
			defer m.Close()

			w := &worker{app: a, queue: q, model: m, consumer: consumer, vio: vio}
			return w.run(ctx)
		},
	}
	cmd.Flags().StringVar(&consumer, "consumer", "", "consumer name within the group (default host-uuid)")
	cmd.Flags().StringVar(&vio.ffmpeg, "ffmpeg", video.DefaultFFmpeg, "ffmpeg binary for non-GIF containers")
	return cmd
}

func defaultConsumer() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.New().String()[:8]
}

type jobQueue interface {
	Read(ctx context.Context, consumer string, block time.Duration) (*queue.Message, error)
	Ack(ctx context.Context, id string) error
	ClaimStale(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]*queue.Message, error)
	DeadLetter(ctx context.Context, msg *queue.Message, reason error) error
}

type worker struct {
	app      *app
	queue    jobQueue
	model    model.Model
	consumer string
	vio      videoIO
}

func (w *worker) run(ctx context.Context) error {
	log := w.app.logger.With(zap.String("consumer", w.consumer))
	log.Info("worker started")
	block := w.app.cfg.QueueBlock()

	var lastClaim time.Time
	for {
		if ctx.Err() != nil {
			log.Info("worker stopping")
			return nil
		}

		if time.Since(lastClaim) >= claimInterval {
			lastClaim = time.Now()
			stale, err := w.queue.ClaimStale(ctx, w.consumer, claimMinIdle, 10)
			if err != nil && ctx.Err() == nil {
				log.Warn("claim stale jobs", zap.Error(err))
			}
			for _, msg := range stale {
				w.handle(ctx, msg)
			}
		}

		msg, err := w.queue.Read(ctx, w.consumer, block)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Warn("read failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}
		w.handle(ctx, msg)
	}
}

// handle runs one job. Failures are dead-lettered unless the worker is
// shutting down, in which case the job stays pending for another consumer.
func (w *worker) handle(ctx context.Context, msg *queue.Message) {
	log := w.app.logger.With(zap.String("job", msg.Job.ID), zap.String("kind", string(msg.Job.Kind)))
	err := w.process(ctx, msg.Job)
	switch {
	case err == nil:
		if err := w.queue.Ack(ctx, msg.ID); err != nil {
			log.Warn("ack failed", zap.Error(err))
		}
	case ctx.Err() != nil:
		log.Info("job interrupted", zap.Error(err))
	default:
		log.Error("job failed", zap.Error(err), zap.Bool("inference", isInferenceFailure(err)))
		if err := w.queue.DeadLetter(ctx, msg, err); err != nil {
			log.Warn("dead letter failed", zap.Error(err))
		}
	}
}

func (w *worker) process(ctx context.Context, job queue.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	switch job.Kind {
	case queue.KindVideo:
		return w.app.runVideo(ctx, w.model, job.Input, job.Output, job.Ages, w.vio)
	default:
		return w.app.runImage(ctx, w.model, job.Input, job.Output, job.Ages)
	}
}

func isInferenceFailure(err error) bool {
	var ie *pipeline.InferenceError
	var de *pipeline.DimensionMismatchError
	return errors.As(err, &ie) || errors.As(err, &de)
}
