package launcher

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/utkarshkpal/now-cli/internal/domain"
	"github.com/utkarshkpal/now-cli/internal/logger"
)

// runtimeImages maps function runtimes to their base images
var runtimeImages = map[string]string{
	"nodejs18": "node:18-slim",
	"nodejs20": "node:20-slim",
}

// DockerFactory provisions Docker-backed launchers for function
// packages. One Docker client is shared across all launchers.
type DockerFactory struct {
	client  *client.Client
	workDir string
}

// NewDockerFactory connects to the Docker daemon and prepares a staging
// directory for extracted bundles
func NewDockerFactory(workDir string) (*DockerFactory, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker daemon not accessible: %w", err)
	}

	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create launcher work dir: %w", err)
	}

	return &DockerFactory{
		client:  cli,
		workDir: workDir,
	}, nil
}

// Provision extracts the function bundle and returns a launcher bound
// to it. The launcher runs one container per invocation.
func (f *DockerFactory) Provision(ctx context.Context, fn *domain.Lambda) (domain.Launcher, error) {
	baseImage, ok := runtimeImages[fn.Runtime]
	if !ok {
		return nil, fmt.Errorf("unsupported function runtime %q", fn.Runtime)
	}

	taskDir, err := os.MkdirTemp(f.workDir, "task-")
	if err != nil {
		return nil, fmt.Errorf("failed to create task dir: %w", err)
	}

	if err := extractBundle(fn.Bundle, taskDir); err != nil {
		os.RemoveAll(taskDir)
		return nil, err
	}

	logger.Debug("Function package provisioned",
		"runtime", fn.Runtime,
		"handler", fn.Handler,
		"task_dir", taskDir,
	)

	return &dockerLauncher{
		client:    f.client,
		baseImage: baseImage,
		handler:   fn.Handler,
		env:       fn.Environment,
		taskDir:   taskDir,
	}, nil
}

// Close closes the shared Docker client
func (f *DockerFactory) Close() error {
	return f.client.Close()
}

// dockerLauncher executes one function package inside short-lived
// containers. The serialized payload goes in through an env var and
// the serialized result comes back as the last log line.
type dockerLauncher struct {
	client    *client.Client
	baseImage string
	handler   string
	env       map[string]string
	taskDir   string
}

func (l *dockerLauncher) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	if err := l.ensureImage(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure image: %w", err)
	}

	resp, err := l.client.ContainerCreate(
		ctx,
		l.containerConfig(payload),
		l.hostConfig(),
		nil,
		nil, "",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	containerID := resp.ID

	defer func() {
		cleanupCtx := context.Background()
		l.cleanupContainer(cleanupCtx, containerID)
	}()

	if err := l.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := l.client.ContainerWait(
		ctx,
		containerID,
		container.WaitConditionNotRunning,
	)
	var exitCode int64

	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("error waiting for container: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-ctx.Done():
		return nil, fmt.Errorf("invocation cancelled: %w", ctx.Err())
	}

	logs, err := l.collectLogs(context.Background(), containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to collect logs: %w", err)
	}

	if exitCode != 0 {
		return nil, fmt.Errorf(
			"function exited with code %d: %s",
			exitCode,
			lastLine(logs),
		)
	}

	return lastLine(logs), nil
}

// Destroy removes the extracted bundle. The Docker client is owned by
// the factory and stays open for other launchers.
func (l *dockerLauncher) Destroy(ctx context.Context) error {
	return os.RemoveAll(l.taskDir)
}

func (l *dockerLauncher) ensureImage(ctx context.Context) error {
	_, err := l.client.ImageInspect(ctx, l.baseImage)
	if err == nil {
		return nil
	}

	reader, err := l.client.ImagePull(ctx, l.baseImage, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (l *dockerLauncher) containerConfig(payload []byte) *container.Config {
	return &container.Config{
		Image:        l.baseImage,
		Cmd:          l.bootstrapCommand(),
		Env:          l.buildEnvironment(payload),
		WorkingDir:   "/var/task",
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	}
}

func (l *dockerLauncher) hostConfig() *container.HostConfig {
	pidsLimit := int64(256)

	return &container.HostConfig{
		NetworkMode:    "none",
		AutoRemove:     false,
		ReadonlyRootfs: true,
		Binds:          []string{l.taskDir + ":/var/task:ro"},
		Resources: container.Resources{
			Memory:    512 * 1024 * 1024,
			CPUShares: 1024,
			PidsLimit: &pidsLimit,
		},
	}
}

// bootstrapCommand loads the handler module, feeds it the decoded
// payload and prints the result as the final line of output
func (l *dockerLauncher) bootstrapCommand() []string {
	return []string{
		"node",
		"-e",
		fmt.Sprintf(`
const handlerPath = '/var/task/' + process.env.NOW_HANDLER;
const mod = require(handlerPath);
const fn = typeof mod === 'function' ? mod : (mod.default || mod.handler);
if (typeof fn !== 'function') {
    console.error('handler is not a function');
    process.exit(1);
}
const payload = JSON.parse(Buffer.from(process.env.NOW_PAYLOAD || '', 'base64').toString('utf-8'));
Promise.resolve(fn(payload)).then(result => {
    console.log(JSON.stringify(result));
}).catch(err => {
    console.error(err && err.stack ? err.stack : String(err));
    process.exit(1);
});
`),
	}
}

func (l *dockerLauncher) buildEnvironment(payload []byte) []string {
	env := []string{
		fmt.Sprintf("NOW_HANDLER=%s", l.handler),
		fmt.Sprintf(
			"NOW_PAYLOAD=%s",
			base64.StdEncoding.EncodeToString(payload),
		),
		"NOW_REGION=dev1",
		"TZ=UTC",
	}

	for key, value := range l.env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}

	return env
}

// collectLogs retrieves stdout and stderr from the container
func (l *dockerLauncher) collectLogs(
	ctx context.Context,
	containerID string,
) ([]byte, error) {
	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     false,
		Timestamps: false,
	}

	reader, err := l.client.ContainerLogs(ctx, containerID, options)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	// Docker multiplexes streams with 8-byte frame headers:
	// [stream_type, 0, 0, 0, size (big-endian uint32), ...data...]
	var output bytes.Buffer
	header := make([]byte, 8)

	for {
		if _, err := io.ReadFull(reader, header); err != nil {
			break
		}

		size := uint32(
			header[4],
		)<<24 | uint32(
			header[5],
		)<<16 | uint32(
			header[6],
		)<<8 | uint32(
			header[7],
		)

		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			break
		}

		output.Write(payload)
	}

	return output.Bytes(), nil
}

// lastLine extracts the final non-empty line, which carries the
// serialized invocation result
func lastLine(logs []byte) []byte {
	lines := bytes.Split(logs, []byte("\n"))

	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) > 0 {
			return line
		}
	}

	return logs
}

func (l *dockerLauncher) cleanupContainer(ctx context.Context, containerID string) {
	timeout := 5
	_ = l.client.ContainerStop(ctx, containerID, container.StopOptions{
		Timeout: &timeout,
	})

	_ = l.client.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force: true,
	})
}
