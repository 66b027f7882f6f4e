// Package kube runs re-aging work as Kubernetes batch Jobs.
package kube

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	meta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/retry"

	"github.com/PhantomInTheWire/reage-pipeline/pkg/model"
)

const (
	AppLabel     = "reage-worker"
	DefaultImage = "ghcr.io/phantominthewire/reage-pipeline:latest"
)

func int32Ptr(i int32) *int32 { return &i }

// JobSpec describes one re-aging run inside the cluster. Input and Output
// are s3:// URIs; credentials come from SecretName.
type JobSpec struct {
	Name         string
	Namespace    string
	Image        string
	Kind         string // "image" or "video"
	Input        string
	Output       string
	Ages         model.Ages
	Window       int
	Stride       int
	Workers      int
	Blend        string
	TileTimeout  string
	// FramePolicy and FrameWorkers only apply to video jobs.
	FramePolicy  string
	FrameWorkers int
	ModelBucket  string // URL prefix serving the wasm model
	SecretName   string
	BackoffLimit int32
}

// BuildJob renders a Job that fetches the wasm model in an init container
// and then runs "reage <kind>" against the object store.
func BuildJob(spec JobSpec) *batchv1.Job {
	image := spec.Image
	if image == "" {
		image = DefaultImage
	}
	kind := spec.Kind
	if kind == "" {
		kind = "image"
	}

	args := []string{
		kind,
		"--in", spec.Input,
		"--out", spec.Output,
		"--source-age", strconv.Itoa(spec.Ages.Source),
		"--target-age", strconv.Itoa(spec.Ages.Target),
		"--backend", "wasm",
		"--wasm", "/opt/model/reage.wasm",
	}
	if spec.Window > 0 {
		args = append(args, "--window", strconv.Itoa(spec.Window))
	}
	if spec.Stride > 0 {
		args = append(args, "--stride", strconv.Itoa(spec.Stride))
	}
	if spec.Workers > 0 {
		args = append(args, "--workers", strconv.Itoa(spec.Workers))
	}
	if spec.Blend != "" {
		args = append(args, "--blend", spec.Blend)
	}
	if spec.TileTimeout != "" {
		args = append(args, "--tile-timeout", spec.TileTimeout)
	}
	if kind == "video" {
		if spec.FramePolicy != "" {
			args = append(args, "--frame-policy", spec.FramePolicy)
		}
		if spec.FrameWorkers > 0 {
			args = append(args, "--frame-workers", strconv.Itoa(spec.FrameWorkers))
		}
	}

	container := corev1.Container{
		Name:  "reage",
		Image: image,
		Args:  args,
		VolumeMounts: []corev1.VolumeMount{{
			Name:      "model-volume",
			MountPath: "/opt/model",
		}},
	}
	if spec.SecretName != "" {
		container.EnvFrom = []corev1.EnvFromSource{{
			SecretRef: &corev1.SecretEnvSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: spec.SecretName},
			},
		}}
	}

	return &batchv1.Job{
		ObjectMeta: meta.ObjectMeta{
			Name:      spec.Name,
			Namespace: spec.Namespace,
			Labels:    map[string]string{"app": AppLabel},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: int32Ptr(spec.BackoffLimit),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: meta.ObjectMeta{
					Labels: map[string]string{"job-name": spec.Name, "app": AppLabel},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					InitContainers: []corev1.Container{{
						Name:  "fetch-model",
						Image: "curlimages/curl:7.85.0",
						Command: []string{
							"sh", "-c",
							fmt.Sprintf("curl -sf %s/reage.wasm -o /opt/model/reage.wasm", strings.TrimSuffix(spec.ModelBucket, "/")),
						},
						VolumeMounts: []corev1.VolumeMount{{
							Name:      "model-volume",
							MountPath: "/opt/model",
						}},
					}},
					Containers: []corev1.Container{container},
					Volumes: []corev1.Volume{{
						Name: "model-volume",
						VolumeSource: corev1.VolumeSource{
							EmptyDir: &corev1.EmptyDirVolumeSource{},
						},
					}},
				},
			},
		},
	}
}

// NewClientset loads kubeconfig, or the default home file when empty.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	if kubeconfig == "" {
		kubeconfig = clientcmd.RecommendedHomeFile
	}
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building clientset: %w", err)
	}
	return clientset, nil
}

// Submit creates job, retrying on conflicts.
func Submit(ctx context.Context, client kubernetes.Interface, job *batchv1.Job) (*batchv1.Job, error) {
	var created *batchv1.Job
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		var err error
		created, err = client.BatchV1().Jobs(job.Namespace).Create(ctx, job, meta.CreateOptions{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create job %s/%s: %w", job.Namespace, job.Name, err)
	}
	return created, nil
}

var invalidName = regexp.MustCompile(`[^a-z0-9-]`)

// SanitizeName turns an object key into a unique DNS-1123 job name of at
// most 63 characters.
func SanitizeName(key string) string {
	base := strings.TrimSuffix(filepath.Base(key), filepath.Ext(key))
	sanitized := invalidName.ReplaceAllString(strings.ToLower(base), "-")
	sanitized = strings.Trim(sanitized, "-")

	suffix := uuid.New().String()[:8]
	const prefix = "reage-"
	room := 63 - len(prefix) - len(suffix) - 1
	if len(sanitized) > room {
		sanitized = strings.TrimRight(sanitized[:room], "-")
	}
	if sanitized == "" {
		return prefix + suffix
	}
	return prefix + sanitized + "-" + suffix
}
