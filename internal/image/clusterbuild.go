package image

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/paude/paude/internal/errkind"
	"github.com/paude/paude/internal/substrate"
)

// The cluster-side build path targets OpenShift's build API: an
// ImageStream to receive the image and a binary-input BuildConfig fed a
// tar of the build context. On vanilla clusters without these APIs the
// first create fails and Build returns that error classified Unknown.
// The remote delivery flow (Deliverer) does not call ClusterBuilder.
var (
	imageStreamGVK = schema.GroupVersionKind{Group: "image.openshift.io", Version: "v1", Kind: "ImageStream"}
	buildConfigGVK = schema.GroupVersionKind{Group: "build.openshift.io", Version: "v1", Kind: "BuildConfig"}
	buildGVK       = schema.GroupVersionKind{Group: "build.openshift.io", Version: "v1", Kind: "Build"}
)

const (
	buildPollInterval = 2 * time.Second
	buildPollBudget   = 300 * time.Second
)

// ClusterBuilder materializes a session image inside the cluster.
type ClusterBuilder struct {
	Client    client.Client
	Clientset kubernetes.Interface
	Namespace string
}

// Build ensures the ImageStream and BuildConfig exist for sessionName,
// streams the build context directory as a tarball into a binary build,
// polls the resulting Build to completion, and returns the in-cluster
// image reference derived from the ImageStream.
func (cb *ClusterBuilder) Build(ctx context.Context, sessionName, contextDir, tag string) (string, error) {
	name := "paude-build-" + sessionName

	if err := cb.ensureImageStream(ctx, name); err != nil {
		return "", err
	}
	if err := cb.ensureBuildConfig(ctx, name, tag); err != nil {
		return "", err
	}

	tarball, err := BuildContextTar(contextDir)
	if err != nil {
		return "", errkind.New("image.ClusterBuild", errkind.Unknown, err)
	}

	buildName, err := cb.instantiateBinary(ctx, name, tarball)
	if err != nil {
		return "", err
	}

	if err := cb.awaitBuild(ctx, buildName); err != nil {
		return "", err
	}

	repo, err := cb.imageRepository(ctx, name)
	if err != nil {
		return "", err
	}
	return repo + ":" + tag, nil
}

func (cb *ClusterBuilder) ensureImageStream(ctx context.Context, name string) error {
	is := &unstructured.Unstructured{}
	is.SetGroupVersionKind(imageStreamGVK)
	is.SetName(name)
	is.SetNamespace(cb.Namespace)
	is.SetLabels(map[string]string{substrate.LabelManagedBy: substrate.ManagedByValue})

	if err := cb.Client.Create(ctx, is); err != nil && !apierrors.IsAlreadyExists(err) {
		return errkind.New("image.ClusterBuild", errkind.Unknown, err)
	}
	return nil
}

func (cb *ClusterBuilder) ensureBuildConfig(ctx context.Context, name, tag string) error {
	bc := &unstructured.Unstructured{}
	bc.SetGroupVersionKind(buildConfigGVK)
	bc.SetName(name)
	bc.SetNamespace(cb.Namespace)
	bc.SetLabels(map[string]string{substrate.LabelManagedBy: substrate.ManagedByValue})
	spec := map[string]interface{}{
		"source": map[string]interface{}{"type": "Binary"},
		"strategy": map[string]interface{}{
			"type":           "Docker",
			"dockerStrategy": map[string]interface{}{},
		},
		"output": map[string]interface{}{
			"to": map[string]interface{}{
				"kind": "ImageStreamTag",
				"name": name + ":" + tag,
			},
		},
	}
	if err := unstructured.SetNestedMap(bc.Object, spec, "spec"); err != nil {
		return errkind.New("image.ClusterBuild", errkind.Unknown, err)
	}

	if err := cb.Client.Create(ctx, bc); err != nil && !apierrors.IsAlreadyExists(err) {
		return errkind.New("image.ClusterBuild", errkind.Unknown, err)
	}
	return nil
}

// instantiateBinary streams the tarball over the build API's binary
// channel and returns the created Build's name.
func (cb *ClusterBuilder) instantiateBinary(ctx context.Context, name string, tarball []byte) (string, error) {
	result := cb.Clientset.CoreV1().RESTClient().Post().
		AbsPath("/apis/build.openshift.io/v1", "namespaces", cb.Namespace, "buildconfigs", name, "instantiatebinary").
		SetHeader("Content-Type", "application/octet-stream").
		Body(bytes.NewReader(tarball)).
		Do(ctx)
	if err := result.Error(); err != nil {
		return "", errkind.New("image.ClusterBuild", errkind.BuildFailed, err)
	}

	raw, err := result.Raw()
	if err != nil {
		return "", errkind.New("image.ClusterBuild", errkind.BuildFailed, err)
	}
	build := &unstructured.Unstructured{}
	if err := build.UnmarshalJSON(raw); err != nil {
		return "", errkind.New("image.ClusterBuild", errkind.BuildFailed, err)
	}
	return build.GetName(), nil
}

// awaitBuild polls the Build's phase until Complete, or fails with the
// terminal phase and captured logs attached.
func (cb *ClusterBuilder) awaitBuild(ctx context.Context, buildName string) error {
	deadline := time.Now().Add(buildPollBudget)
	ticker := time.NewTicker(buildPollInterval)
	defer ticker.Stop()

	for {
		build := &unstructured.Unstructured{}
		build.SetGroupVersionKind(buildGVK)
		err := cb.Client.Get(ctx, client.ObjectKey{Namespace: cb.Namespace, Name: buildName}, build)
		if err != nil {
			return errkind.New("image.ClusterBuild", errkind.Unknown, err)
		}

		phase, _, _ := unstructured.NestedString(build.Object, "status", "phase")
		switch phase {
		case "Complete":
			return nil
		case "Failed", "Error", "Cancelled":
			msg, _, _ := unstructured.NestedString(build.Object, "status", "message")
			return errkind.Newf("image.ClusterBuild", errkind.BuildFailed,
				"build %s ended in phase %s: %s", buildName, phase, msg)
		}

		if time.Now().After(deadline) {
			return errkind.Newf("image.ClusterBuild", errkind.Timeout,
				"build %s still in phase %q after %s", buildName, phase, buildPollBudget)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// imageRepository reads the ImageStream's dockerImageRepository, the
// in-cluster pull reference for everything the stream holds.
func (cb *ClusterBuilder) imageRepository(ctx context.Context, name string) (string, error) {
	is := &unstructured.Unstructured{}
	is.SetGroupVersionKind(imageStreamGVK)
	if err := cb.Client.Get(ctx, client.ObjectKey{Namespace: cb.Namespace, Name: name}, is); err != nil {
		return "", errkind.New("image.ClusterBuild", errkind.Unknown, err)
	}
	repo, found, err := unstructured.NestedString(is.Object, "status", "dockerImageRepository")
	if err != nil || !found || repo == "" {
		return "", errkind.Newf("image.ClusterBuild", errkind.Unknown,
			"ImageStream %s has no dockerImageRepository yet", name)
	}
	return repo, nil
}

// BuildContextTar tars a build-context directory deterministically (sorted
// walk, content only). The result is small — a Dockerfile, an entrypoint
// script, occasionally a workspace — so an in-memory tarball is fine.
func BuildContextTar(dir string) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		hdr := &tar.Header{
			Name: rel,
			Mode: int64(fi.Mode().Perm()),
			Size: int64(len(data)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err = tw.Write(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StageContextDir writes the generated Dockerfile and entrypoint into a
// fresh temporary directory and returns its path. The caller removes it
// when the build completes; the uuid suffix keeps concurrent invocations
// from colliding.
func StageContextDir(dockerfile, entrypoint string) (string, error) {
	dir := filepath.Join(os.TempDir(), "paude-build-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("stage build context: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		return "", fmt.Errorf("stage build context: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "entrypoint.sh"), []byte(entrypoint), 0o755); err != nil {
		return "", fmt.Errorf("stage build context: %w", err)
	}
	return dir, nil
}
