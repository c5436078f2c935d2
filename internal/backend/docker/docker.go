// Package docker implements backend.Driver against a local Docker daemon
// using the real Docker SDK client, rather than the teacher's CLI-exec
// style (see DESIGN.md for why this departs from runtime/docker.go while
// keeping the same dependency).
package docker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/pkg/errors"

	"github.com/archon-ai/mcp-controlplane/internal/backend"
	"github.com/archon-ai/mcp-controlplane/internal/ctlerr"
	"github.com/archon-ai/mcp-controlplane/internal/logging"
	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

var log = logging.Get("backend.docker")

// label applied to every container this driver creates, used as the
// selector equivalent of the Kubernetes backend's label selector.
const ownerLabel = "mcp-controlplane.managed-by"

// Driver talks to the local Docker daemon over its API socket.
type Driver struct {
	cli *dockerclient.Client
}

// New constructs a Driver from the ambient Docker environment (DOCKER_HOST,
// or the default unix socket), mirroring client.NewClientWithOpts(client.FromEnv).
func New() (*Driver, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "constructing docker client")
	}
	return &Driver{cli: cli}, nil
}

func (d *Driver) Name() string { return "docker" }

func (d *Driver) containerName(serverID string) string {
	return fmt.Sprintf("mcp-%s", serverID)
}

func (d *Driver) Create(ctx context.Context, spec backend.WorkloadSpec) error {
	m := spec.Manifest
	env := make([]string, 0, len(m.Env))
	for k, v := range m.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range m.Ports {
		port, err := nat.NewPort("tcp", fmt.Sprintf("%d", p.ContainerPort))
		if err != nil {
			return errors.Wrap(err, "mapping container port")
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}}
	}

	var cmd []string
	cmd = append(cmd, m.Command...)
	cmd = append(cmd, m.Args...)

	containerCfg := &container.Config{
		Image:        m.Image,
		Cmd:          cmd,
		Env:          env,
		OpenStdin:    m.StdinOpen,
		Tty:          m.TTY,
		ExposedPorts: exposed,
		Labels: map[string]string{
			ownerLabel:    "true",
			"server-id":   spec.ServerID,
			"server-type": m.Labels["server-type"],
			"transport":   m.Labels["transport"],
		},
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		AutoRemove:   false,
		Resources: container.Resources{
			NanoCPUs: 0, // left to the daemon default; spec's CPU/memory limits are advisory for Docker mode
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, d.containerName(spec.ServerID))
	if err != nil {
		return classify(err, "creating container for %s", spec.ServerID)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return classify(err, "starting container for %s", spec.ServerID)
	}
	log.Infof("created container %s for server %s", resp.ID[:12], spec.ServerID)
	return nil
}

func (d *Driver) Delete(ctx context.Context, serverID string) error {
	name := d.containerName(serverID)
	timeout := 10
	if err := d.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return ctlerr.New(ctlerr.KindNotFound, "container for %s not found", serverID)
		}
		log.Warningf("stop container %s: %v", name, err)
	}
	if err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return ctlerr.New(ctlerr.KindNotFound, "container for %s not found", serverID)
		}
		return classify(err, "removing container for %s", serverID)
	}
	return nil
}

func (d *Driver) Status(ctx context.Context) (map[string]backend.WorkloadStatus, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, classify(err, "listing containers")
	}
	out := map[string]backend.WorkloadStatus{}
	for _, c := range containers {
		serverID, ok := c.Labels["server-id"]
		if !ok {
			continue
		}
		phase, ready := dockerPhase(c.State, c.Status)
		out[serverID] = backend.WorkloadStatus{Phase: phase, Ready: ready, Found: true}
	}
	return out, nil
}

// dockerPhase maps Docker's container State (created/running/paused/
// restarting/removing/exited/dead) onto the same phase vocabulary the
// Kubernetes driver reports, so the Supervisor's reconciliation table
// (spec.md §4.3) applies uniformly across backends.
func dockerPhase(state, statusText string) (phase string, ready bool) {
	switch state {
	case "running":
		return "Running", !strings.Contains(statusText, "(unhealthy)")
	case "created", "restarting":
		return "Pending", false
	case "exited":
		if strings.Contains(statusText, "Exited (0)") {
			return "Succeeded", false
		}
		return "Failed", false
	case "dead":
		return "Failed", false
	default:
		return "Pending", false
	}
}

func (d *Driver) Logs(ctx context.Context, serverID string, limit int) ([]mcpctl.LogEntry, error) {
	name := d.containerName(serverID)
	tail := "all"
	if limit > 0 {
		tail = fmt.Sprintf("%d", limit)
	}
	rc, err := d.cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       tail,
	})
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil, ctlerr.New(ctlerr.KindNotFound, "container for %s not found", serverID)
		}
		return nil, classify(err, "reading logs for %s", serverID)
	}
	defer rc.Close()

	var entries []mcpctl.LogEntry
	scanner := bufio.NewScanner(demuxReader(rc))
	for scanner.Scan() {
		entries = append(entries, parseDockerLogLine(scanner.Text()))
	}
	return entries, nil
}

// demuxReader strips the Docker multiplexed stream header (8-byte frame
// prefix) when the daemon returns the combined stdout/stderr stream
// without a TTY attached.
func demuxReader(r io.Reader) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		buf := make([]byte, 8)
		for {
			if _, err := io.ReadFull(r, buf); err != nil {
				pw.CloseWithError(err)
				return
			}
			size := int(buf[4])<<24 | int(buf[5])<<16 | int(buf[6])<<8 | int(buf[7])
			if _, err := io.CopyN(pw, r, int64(size)); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
	}()
	return pr
}

// demuxSplit is demuxReader's two-output sibling: it routes each multiplexed
// frame to the stdout or stderr pipe according to the frame header's stream
// type byte (1 = stdout, 2 = stderr; anything else is dropped), so Exec can
// hand a caller genuinely separate streams the way ContainerLogs never needs
// to.
func demuxSplit(r io.Reader) (stdout io.Reader, stderr io.Reader) {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	go func() {
		buf := make([]byte, 8)
		for {
			if _, err := io.ReadFull(r, buf); err != nil {
				outW.CloseWithError(err)
				errW.CloseWithError(err)
				return
			}
			size := int(buf[4])<<24 | int(buf[5])<<16 | int(buf[6])<<8 | int(buf[7])
			var dst *io.PipeWriter
			switch buf[0] {
			case 1:
				dst = outW
			case 2:
				dst = errW
			}
			if dst == nil {
				if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
					outW.CloseWithError(err)
					errW.CloseWithError(err)
					return
				}
				continue
			}
			if _, err := io.CopyN(dst, r, int64(size)); err != nil {
				outW.CloseWithError(err)
				errW.CloseWithError(err)
				return
			}
		}
	}()
	return outR, errR
}

func parseDockerLogLine(line string) mcpctl.LogEntry {
	ts := time.Now().UTC()
	msg := line
	if sp := strings.IndexByte(line, ' '); sp > 0 {
		if parsed, err := time.Parse(time.RFC3339Nano, line[:sp]); err == nil {
			ts = parsed
			msg = strings.TrimSpace(line[sp+1:])
		}
	}
	return mcpctl.LogEntry{Timestamp: ts, Level: mcpctl.LogInfo, Message: msg}
}

func (d *Driver) Exec(ctx context.Context, serverID string) (*backend.ExecStream, error) {
	name := d.containerName(serverID)
	attach, err := d.cli.ContainerAttach(ctx, name, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return nil, classify(err, "attaching to %s", serverID)
	}
	stdout, stderr := demuxSplit(attach.Reader)
	return &backend.ExecStream{
		Stdin:  attach.Conn,
		Stdout: stdout,
		Stderr: stderr,
		Close:  func() error { attach.Close(); return nil },
	}, nil
}

func (d *Driver) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := d.cli.Ping(ctx); err != nil {
		return ctlerr.Wrap(ctlerr.KindUnavailable, err, "docker daemon unreachable")
	}
	return nil
}

// classify maps a raw Docker SDK error onto the BackendTransient/
// BackendPermanent split of spec.md §7: daemon-side 5xx/connection
// failures are transient, not-found maps to NotFound, and every other
// error (client-side 4xx such as a bad request) is permanent.
func classify(err error, format string, args ...any) error {
	if dockerclient.IsErrNotFound(err) {
		return ctlerr.Wrap(ctlerr.KindNotFound, err, format, args...)
	}
	if dockerclient.IsErrConnectionFailed(err) || errdefs.IsSystem(err) || errdefs.IsUnavailable(err) {
		return ctlerr.Wrap(ctlerr.KindBackendTransient, err, format, args...)
	}
	return ctlerr.Wrap(ctlerr.KindBackendPermanent, err, format, args...)
}
