package image

import (
	"archive/tar"
	"bytes"
	"context"
	"io"

	"github.com/paude/paude/internal/session"
)

// ContextTar renders a BuildInputs' generated build context as an
// in-memory tar stream: the Dockerfile and the entrypoint script, which
// is all the default session image needs.
func ContextTar(in session.BuildInputs) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	files := []struct {
		name    string
		mode    int64
		content string
	}{
		{"Dockerfile", 0o644, in.DockerfileTxt},
		{"entrypoint.sh", 0o755, in.EntrypointTxt},
	}
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, Mode: f.mode, Size: int64(len(f.content))}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write([]byte(f.content)); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// LocalMaterializer satisfies the controller's image dependency for the
// local substrate: ensure the content-addressed tag exists in the local
// engine, building it when absent.
type LocalMaterializer struct {
	Pipeline *Pipeline
	Repo     string
}

func (m *LocalMaterializer) Materialize(ctx context.Context, cfg session.SessionConfig, rebuild bool) (string, error) {
	buildCtx, err := ContextTar(cfg.Build)
	if err != nil {
		return "", err
	}
	return m.Pipeline.Resolve(ctx, m.Repo, cfg.Build, buildCtx, rebuild)
}

// RemoteMaterializer builds locally and then delivers the image to
// wherever the cluster can pull it.
type RemoteMaterializer struct {
	Local     *LocalMaterializer
	Deliverer *Deliverer
}

func (m *RemoteMaterializer) Materialize(ctx context.Context, cfg session.SessionConfig, rebuild bool) (string, error) {
	localTag, err := m.Local.Materialize(ctx, cfg, rebuild)
	if err != nil {
		return "", err
	}
	return m.Deliverer.Deliver(ctx, localTag)
}
