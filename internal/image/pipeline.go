package image

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"

	"github.com/paude/paude/internal/errkind"
	"github.com/paude/paude/internal/session"
)

// Strategy names the materialization path used to get an image onto the
// target substrate. The remote flow builds locally, then tries the three
// push strategies in the order listed; it does not try the in-cluster
// build.
type Strategy string

const (
	StrategyLocalBuild      Strategy = "local-build"       // build directly on the local engine
	StrategyRegistryPush    Strategy = "registry-push"     // push to a registry the cluster can pull from
	StrategyInternalPush    Strategy = "internal-push"     // push to the cluster's externally exposed internal registry
	StrategyPortForwardPush Strategy = "port-forward-push" // port-forward to the internal registry and push through it
	StrategyInClusterBuild  Strategy = "in-cluster-build"  // stream the context to a cluster-side build
)

// engineAPI is the slice of the engine client the pipeline drives,
// extracted so tests can fake builds and pushes.
type engineAPI interface {
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImagePush(ctx context.Context, image string, options image.PushOptions) (io.ReadCloser, error)
	ImageTag(ctx context.Context, source, target string) error
}

// Pipeline resolves and materializes images, keyed on the content hash in
// Hash(). The local engine does all building; remote delivery strategies
// live in registry.go and clusterbuild.go.
type Pipeline struct {
	engine engineAPI
}

func NewPipeline(docker *dockerclient.Client) *Pipeline {
	return &Pipeline{engine: docker}
}

// Resolve returns the image tag for in, building it when the tagged image
// is not already present in the local engine's store. force skips the
// cache check and always rebuilds.
func (p *Pipeline) Resolve(ctx context.Context, repo string, in session.BuildInputs, buildCtx io.Reader, force bool) (string, error) {
	tag := Tag(repo, in)

	if !force {
		_, _, err := p.engine.ImageInspectWithRaw(ctx, tag)
		if err == nil {
			log.Printf("[image] cache hit for %s", tag)
			return tag, nil
		}
		if !dockerclient.IsErrNotFound(err) {
			return "", errkind.New("image.Resolve", errkind.Unknown, err)
		}
	}

	log.Printf("[image] building %s", tag)
	resp, err := p.engine.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: "Dockerfile",
		BuildArgs:  map[string]*string{"BASE_IMAGE": &in.BaseImage},
		Remove:     true,
	})
	if err != nil {
		return "", errkind.New("image.Resolve", errkind.BuildFailed, err)
	}
	defer resp.Body.Close()
	if err := drainBuildOutput(resp.Body); err != nil {
		return "", errkind.New("image.Resolve", errkind.BuildFailed, err)
	}
	return tag, nil
}

// drainBuildOutput consumes the engine's JSON build stream and surfaces
// an embedded build error, which the engine reports in-band rather than
// as an HTTP failure.
func drainBuildOutput(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lastLines []string
	for scanner.Scan() {
		line := scanner.Bytes()
		var msg struct {
			Stream string `json:"stream"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if s := strings.TrimSpace(msg.Stream); s != "" {
			lastLines = append(lastLines, s)
			if len(lastLines) > 10 {
				lastLines = lastLines[1:]
			}
		}
		if msg.Error != "" {
			return fmt.Errorf("%s\n%s", msg.Error, strings.Join(lastLines, "\n"))
		}
	}
	return scanner.Err()
}

// Exists reports whether tag is already present in the local engine.
func (p *Pipeline) Exists(ctx context.Context, tag string) (bool, error) {
	_, _, err := p.engine.ImageInspectWithRaw(ctx, tag)
	if err == nil {
		return true, nil
	}
	if dockerclient.IsErrNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("inspect image %s: %w", tag, err)
}

// PushTo retags localTag under the target repository and pushes it. Auth
// is whatever the host's engine config already holds; paude introduces no
// credential store of its own.
func (p *Pipeline) PushTo(ctx context.Context, localTag, targetRef, registryAuth string) error {
	if localTag != targetRef {
		if err := p.engine.ImageTag(ctx, localTag, targetRef); err != nil {
			return errkind.New("image.PushTo", errkind.Unknown, err)
		}
	}
	resp, err := p.engine.ImagePush(ctx, targetRef, image.PushOptions{RegistryAuth: registryAuth})
	if err != nil {
		return errkind.New("image.PushTo", errkind.RegistryUnreachable, err)
	}
	defer resp.Close()
	if err := drainPushOutput(resp); err != nil {
		return errkind.New("image.PushTo", errkind.RegistryUnreachable, err)
	}
	return nil
}

// drainPushOutput mirrors drainBuildOutput for the push stream.
func drainPushOutput(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return fmt.Errorf("%s", msg.Error)
		}
	}
	return scanner.Err()
}
