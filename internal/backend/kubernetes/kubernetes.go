// Package kubernetes implements backend.Driver against the Kubernetes API,
// grounded on the teacher's runtime.KubernetesContainerRuntime
// (cmd/docker-mcp/internal/gateway/runtime/kubernetes.go): in-cluster
// config detection falling back to kubeconfig, Pod CRUD via CoreV1, and
// exec via remotecommand's SPDY executor against the v4.channel.k8s.io
// subprotocol (the real upgrade spec.md §4.5 calls for, where the Python
// original merely simulated it).
package kubernetes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	resourceapi "k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	"k8s.io/client-go/util/homedir"

	"github.com/archon-ai/mcp-controlplane/internal/backend"
	"github.com/archon-ai/mcp-controlplane/internal/ctlerr"
	"github.com/archon-ai/mcp-controlplane/internal/logging"
	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

var log = logging.Get("backend.k8s")

// Driver talks to the Kubernetes API to manage worker pods directly
// (kubernetes-native mode). Kubernetes-sidecar mode does not use it: it
// proxies through sidecarhttp, which builds its own start request.
type Driver struct {
	clientset *kubernetes.Clientset
	restCfg   *rest.Config
	namespace string
}

// Config selects how to reach the API server.
type Config struct {
	Namespace   string
	Kubeconfig  string
	KubeContext string
}

// New builds a Driver, trying in-cluster config first and falling back to
// the kubeconfig file, matching the teacher's getKubernetesConfig.
func New(cfg Config) (*Driver, error) {
	restCfg, err := resolveConfig(cfg)
	if err != nil {
		return nil, err
	}
	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("building kubernetes clientset: %w", err)
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "default"
	}
	return &Driver{clientset: cs, restCfg: restCfg, namespace: ns}, nil
}

func resolveConfig(cfg Config) (*rest.Config, error) {
	if inCluster, err := rest.InClusterConfig(); err == nil {
		log.Info("using in-cluster kubernetes config")
		return inCluster, nil
	}
	kubeconfig := cfg.Kubeconfig
	if kubeconfig == "" {
		if home := homedir.HomeDir(); home != "" {
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
	}
	loadingRules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfig}
	overrides := &clientcmd.ConfigOverrides{}
	if cfg.KubeContext != "" {
		overrides.CurrentContext = cfg.KubeContext
	}
	restCfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig %s: %w", kubeconfig, err)
	}
	log.Infof("using out-of-cluster kubernetes config from %s", kubeconfig)
	return restCfg, nil
}

func (d *Driver) Name() string { return "kubernetes-native" }

func sanitizeName(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, ".", "-")
	return s
}

func (d *Driver) podName(serverID string) string {
	return sanitizeName(fmt.Sprintf("mcp-%s", serverID))
}

func (d *Driver) Create(ctx context.Context, spec backend.WorkloadSpec) error {
	pod := d.buildPodManifest(spec)
	_, err := d.clientset.CoreV1().Pods(d.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return classify(err, "creating pod for %s", spec.ServerID)
	}
	log.Infof("created pod %s for server %s", pod.Name, spec.ServerID)
	return nil
}

func (d *Driver) buildPodManifest(spec backend.WorkloadSpec) *corev1.Pod {
	m := spec.Manifest
	name := d.podName(spec.ServerID)

	env := make([]corev1.EnvVar, 0, len(m.Env))
	for k, v := range m.Env {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}

	var ports []corev1.ContainerPort
	for _, p := range m.Ports {
		ports = append(ports, corev1.ContainerPort{ContainerPort: int32(p.ContainerPort), Name: p.Name})
	}

	var liveness, readiness *corev1.Probe
	if m.Liveness != nil {
		liveness = httpProbe(m.Liveness.Path, m.Liveness.Port)
	}
	if m.Readiness != nil {
		readiness = httpProbe(m.Readiness.Path, m.Readiness.Port)
	}

	nonRoot := m.Security.RunAsNonRoot
	uid := m.Security.RunAsUser
	gid := m.Security.RunAsGroup
	allowEsc := m.Security.AllowPrivilegeEscalation
	readOnlyFS := m.Security.ReadOnlyRootFilesystem
	caps := &corev1.Capabilities{}
	for _, c := range m.Security.CapabilitiesDrop {
		caps.Drop = append(caps.Drop, corev1.Capability(c))
	}

	resources := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    resourceapi.MustParse(m.Resources.CPURequest),
			corev1.ResourceMemory: resourceapi.MustParse(m.Resources.MemoryRequest),
		},
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    resourceapi.MustParse(m.Resources.CPULimit),
			corev1.ResourceMemory: resourceapi.MustParse(m.Resources.MemoryLimit),
		},
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   d.namespace,
			Labels:      m.Labels,
			Annotations: map[string]string{"server-config": m.Annotation},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:    "mcp-server",
				Image:   m.Image,
				Command: m.Command,
				Args:    m.Args,
				Env:     env,
				Ports:   ports,
				Stdin:   m.StdinOpen,
				TTY:     m.TTY,
				SecurityContext: &corev1.SecurityContext{
					RunAsNonRoot:             &nonRoot,
					RunAsUser:                &uid,
					RunAsGroup:               &gid,
					AllowPrivilegeEscalation: &allowEsc,
					ReadOnlyRootFilesystem:   &readOnlyFS,
					Capabilities:             caps,
				},
				Resources:      resources,
				LivenessProbe:  liveness,
				ReadinessProbe: readiness,
			}},
		},
	}
}

func httpProbe(path string, port int) *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			HTTPGet: &corev1.HTTPGetAction{Path: path, Port: intstr.FromInt(port)},
		},
	}
}

func (d *Driver) Delete(ctx context.Context, serverID string) error {
	name := d.podName(serverID)
	grace := int64(0)
	propagation := metav1.DeletePropagationForeground
	err := d.clientset.CoreV1().Pods(d.namespace).Delete(ctx, name, metav1.DeleteOptions{
		GracePeriodSeconds: &grace,
		PropagationPolicy:  &propagation,
	})
	if apierrors.IsNotFound(err) {
		return ctlerr.New(ctlerr.KindNotFound, "pod %s not found", name)
	}
	if err != nil {
		return classify(err, "deleting pod %s", name)
	}
	return nil
}

func (d *Driver) Status(ctx context.Context) (map[string]backend.WorkloadStatus, error) {
	pods, err := d.clientset.CoreV1().Pods(d.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "component=mcp-server",
	})
	if err != nil {
		return nil, classify(err, "listing pods")
	}
	out := map[string]backend.WorkloadStatus{}
	for _, p := range pods.Items {
		serverID := serverIDFromPodName(p.Name)
		phase, ready, reason := podPhaseStatus(&p)
		out[serverID] = backend.WorkloadStatus{Phase: phase, Ready: ready, Reason: reason, Found: true}
	}
	return out, nil
}

// serverIDFromPodName strips the "mcp-" prefix this driver's podName
// applies; it is a best-effort inverse used only to key the status map,
// since server ids themselves never contain the prefix.
func serverIDFromPodName(name string) string {
	return strings.TrimPrefix(name, "mcp-")
}

// podPhaseStatus maps a pod's phase and Ready condition onto the
// vocabulary of spec.md §4.3's reconciliation table.
func podPhaseStatus(p *corev1.Pod) (phase string, ready bool, reason string) {
	switch p.Status.Phase {
	case corev1.PodPending:
		return "Pending", false, waitingReason(p)
	case corev1.PodRunning:
		for _, c := range p.Status.Conditions {
			if c.Type == corev1.PodReady {
				return "Running", c.Status == corev1.ConditionTrue, ""
			}
		}
		return "Running", false, ""
	case corev1.PodSucceeded:
		return "Succeeded", false, ""
	case corev1.PodFailed:
		return "Failed", false, p.Status.Reason
	default:
		return "Pending", false, ""
	}
}

func waitingReason(p *corev1.Pod) string {
	for _, cs := range p.Status.ContainerStatuses {
		if cs.State.Waiting != nil {
			return cs.State.Waiting.Reason
		}
	}
	return ""
}

func (d *Driver) Logs(ctx context.Context, serverID string, limit int) ([]mcpctl.LogEntry, error) {
	name := d.podName(serverID)
	var tail *int64
	if limit > 0 {
		l := int64(limit)
		tail = &l
	}
	ts := true
	req := d.clientset.CoreV1().Pods(d.namespace).GetLogs(name, &corev1.PodLogOptions{
		TailLines:  tail,
		Timestamps: ts,
	})
	rc, err := req.Stream(ctx)
	if err != nil {
		// Naming-convention fallback (spec.md §6): after the mcp- prefixed
		// pod name, try the archon-mcp prefixed form.
		rc, err = d.clientset.CoreV1().Pods(d.namespace).GetLogs(
			sanitizeName(fmt.Sprintf("archon-mcp-%s", serverID)),
			&corev1.PodLogOptions{TailLines: tail, Timestamps: ts},
		).Stream(ctx)
		if err != nil {
			if apierrors.IsNotFound(err) {
				return nil, ctlerr.New(ctlerr.KindNotFound, "pod logs for %s not found", serverID)
			}
			return nil, classify(err, "streaming logs for %s", serverID)
		}
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("reading log stream for %s: %w", serverID, err)
	}

	var entries []mcpctl.LogEntry
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		entries = append(entries, parseTimestampedLine(line))
	}
	return entries, nil
}

func parseTimestampedLine(line string) mcpctl.LogEntry {
	sp := strings.IndexByte(line, ' ')
	if sp <= 0 {
		return mcpctl.LogEntry{Timestamp: time.Now().UTC(), Level: mcpctl.LogInfo, Message: line}
	}
	ts, err := time.Parse(time.RFC3339Nano, line[:sp])
	if err != nil {
		return mcpctl.LogEntry{Timestamp: time.Now().UTC(), Level: mcpctl.LogInfo, Message: line}
	}
	return mcpctl.LogEntry{Timestamp: ts, Level: mcpctl.LogInfo, Message: strings.TrimSpace(line[sp+1:])}
}

// Exec attaches a real v4.channel.k8s.io exec channel to the pod's
// container via the SPDY executor, matching the teacher's
// execInContainer/createPodAttachStreams.
func (d *Driver) Exec(ctx context.Context, serverID string) (*backend.ExecStream, error) {
	name := d.podName(serverID)
	req := d.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(name).
		Namespace(d.namespace).
		SubResource("attach").
		VersionedParams(&corev1.PodAttachOptions{
			Stdin:  true,
			Stdout: true,
			Stderr: true,
			TTY:    false,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(d.restCfg, "POST", req.URL())
	if err != nil {
		return nil, fmt.Errorf("building spdy executor for %s: %w", serverID, err)
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	streamCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		err := executor.StreamWithContext(streamCtx, remotecommand.StreamOptions{
			Stdin:  stdinR,
			Stdout: stdoutW,
			Stderr: stderrW,
			Tty:    false,
		})
		stdoutW.CloseWithError(err)
		stderrW.CloseWithError(err)
		if err != nil {
			log.Warningf("exec stream for %s ended: %v", serverID, err)
		}
	}()

	return &backend.ExecStream{
		Stdin:  stdinW,
		Stdout: stdoutR,
		Stderr: stderrR,
		Close: func() error {
			cancel()
			return stdinR.Close()
		},
	}, nil
}

func (d *Driver) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := d.clientset.CoreV1().Pods(d.namespace).List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		return ctlerr.Wrap(ctlerr.KindUnavailable, err, "kubernetes api unreachable")
	}
	return nil
}

func classify(err error, format string, args ...any) error {
	if apierrors.IsNotFound(err) {
		return ctlerr.Wrap(ctlerr.KindNotFound, err, format, args...)
	}
	if apierrors.IsServerTimeout(err) || apierrors.IsServiceUnavailable(err) || apierrors.IsTimeout(err) || apierrors.IsTooManyRequests(err) {
		return ctlerr.Wrap(ctlerr.KindBackendTransient, err, format, args...)
	}
	return ctlerr.Wrap(ctlerr.KindBackendPermanent, err, format, args...)
}
