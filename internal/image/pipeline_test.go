package image

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/errdefs"
	"gotest.tools/v3/assert"

	"github.com/paude/paude/internal/errkind"
	"github.com/paude/paude/internal/session"
)

// fakeEngine records which engine calls the pipeline made.
type fakeEngine struct {
	present    map[string]bool
	builds     int
	pushes     []string
	buildErr   string // in-band error injected into the build stream
	pushFailed bool
}

func (f *fakeEngine) ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error) {
	if f.present[imageID] {
		return types.ImageInspect{ID: imageID}, nil, nil
	}
	return types.ImageInspect{}, nil, errdefs.NotFound(errors.New("no such image"))
}

func (f *fakeEngine) ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	f.builds++
	body := `{"stream":"Step 1/4 : FROM debian"}` + "\n"
	if f.buildErr != "" {
		body += `{"error":"` + f.buildErr + `"}` + "\n"
	}
	return types.ImageBuildResponse{Body: io.NopCloser(bytes.NewReader([]byte(body)))}, nil
}

func (f *fakeEngine) ImagePush(ctx context.Context, imageRef string, options image.PushOptions) (io.ReadCloser, error) {
	f.pushes = append(f.pushes, imageRef)
	if f.pushFailed {
		return io.NopCloser(strings.NewReader(`{"error":"connection reset by peer"}` + "\n")), nil
	}
	return io.NopCloser(strings.NewReader(`{"status":"Pushed"}` + "\n")), nil
}

func (f *fakeEngine) ImageTag(ctx context.Context, source, target string) error { return nil }

func TestResolveCacheHitSkipsBuild(t *testing.T) {
	in := session.BuildInputs{BaseImage: "debian", Version: "1"}
	tag := Tag("paude-session", in)

	engine := &fakeEngine{present: map[string]bool{tag: true}}
	p := &Pipeline{engine: engine}

	got, err := p.Resolve(context.Background(), "paude-session", in, nil, false)
	assert.NilError(t, err)
	assert.Equal(t, got, tag)
	assert.Equal(t, engine.builds, 0)
}

func TestResolveBuildsOnMiss(t *testing.T) {
	in := session.BuildInputs{BaseImage: "debian", Version: "1"}
	engine := &fakeEngine{present: map[string]bool{}}
	p := &Pipeline{engine: engine}

	_, err := p.Resolve(context.Background(), "paude-session", in, bytes.NewReader(nil), false)
	assert.NilError(t, err)
	assert.Equal(t, engine.builds, 1)
}

func TestResolveForceRebuildsDespiteCache(t *testing.T) {
	in := session.BuildInputs{BaseImage: "debian", Version: "1"}
	tag := Tag("paude-session", in)
	engine := &fakeEngine{present: map[string]bool{tag: true}}
	p := &Pipeline{engine: engine}

	_, err := p.Resolve(context.Background(), "paude-session", in, bytes.NewReader(nil), true)
	assert.NilError(t, err)
	assert.Equal(t, engine.builds, 1)
}

func TestResolveSurfacesInBandBuildError(t *testing.T) {
	in := session.BuildInputs{BaseImage: "debian", Version: "1"}
	engine := &fakeEngine{present: map[string]bool{}, buildErr: "exit code 1"}
	p := &Pipeline{engine: engine}

	_, err := p.Resolve(context.Background(), "paude-session", in, bytes.NewReader(nil), false)
	assert.Assert(t, errkind.Is(err, errkind.BuildFailed))
	assert.ErrorContains(t, err, "exit code 1")
}

func TestPushToClassifiesResetAsRegistryUnreachable(t *testing.T) {
	engine := &fakeEngine{pushFailed: true}
	p := &Pipeline{engine: engine}

	err := p.PushTo(context.Background(), "a:1", "reg/a:1", "")
	assert.Assert(t, errkind.Is(err, errkind.RegistryUnreachable))
}

func TestDelivererPrefersExternalRegistry(t *testing.T) {
	engine := &fakeEngine{}
	d := &Deliverer{
		Pipeline:  &Pipeline{engine: engine},
		Namespace: "dev",
		Config:    DeliveryConfig{ExternalRegistry: "registry.example.com/team"},
	}

	ref, err := d.Deliver(context.Background(), "paude-session:ab12-amd64")
	assert.NilError(t, err)
	assert.Equal(t, ref, "registry.example.com/team/paude-session:ab12-amd64")
	assert.DeepEqual(t, engine.pushes, []string{"registry.example.com/team/paude-session:ab12-amd64"})
}

func TestJoinRefReplacesRepositoryPrefix(t *testing.T) {
	assert.Equal(t, joinRef("reg/team", "local/paude-session:x"), "reg/team/paude-session:x")
	assert.Equal(t, joinRef("reg/team/", "paude-session:x"), "reg/team/paude-session:x")
}

func TestDelivererInternalRegistryFallback(t *testing.T) {
	engine := &fakeEngine{}
	d := &Deliverer{
		Pipeline:  &Pipeline{engine: engine},
		Namespace: "dev",
		Config:    DeliveryConfig{InternalRegistryHost: "registry.apps.example.com"},
	}

	ref, err := d.Deliver(context.Background(), "paude-session:ab12-amd64")
	assert.NilError(t, err)
	// Pushed via the exposed route, but the pod pulls via the in-cluster name.
	assert.DeepEqual(t, engine.pushes, []string{"registry.apps.example.com/dev/paude-session:ab12-amd64"})
	assert.Equal(t, ref, "image-registry.openshift-image-registry.svc:5000/dev/paude-session:ab12-amd64")
}
