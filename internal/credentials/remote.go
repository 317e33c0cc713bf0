package credentials

import (
	"context"
	"os"
	"path"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/paude/paude/internal/errkind"
	"github.com/paude/paude/internal/substrate"
)

// RemoteProjector materializes a resolved credential set on the cluster:
// sensitive files go into a Secret, non-sensitive text into a ConfigMap,
// both labeled with the session name so cascaded deletion sweeps them.
type RemoteProjector struct {
	Client    client.Client
	Namespace string
}

// SecretName and ConfigMapName are deterministic per session so
// re-projecting updates in place instead of accumulating objects.
func SecretName(sessionName string) string    { return "paude-creds-" + sessionName }
func ConfigMapName(sessionName string) string { return "paude-config-" + sessionName }

func objectLabels(sessionName string) map[string]string {
	return map[string]string{
		substrate.LabelManagedBy: substrate.ManagedByValue,
		substrate.LabelSession:   sessionName,
	}
}

// Apply writes the resolved files as one Secret (sensitive) and one
// ConfigMap (the rest), keyed by destination base name. Files that vanish
// between resolve and read are skipped, consistent with the projector's
// never-abort contract.
func (p *RemoteProjector) Apply(ctx context.Context, sessionName string, resolved []Resolved) error {
	secretData := map[string][]byte{}
	configData := map[string]string{}
	for _, r := range resolved {
		content, err := os.ReadFile(r.Source)
		if err != nil {
			continue
		}
		if r.Sensitive {
			secretData[path.Base(r.Dest)] = content
		} else {
			configData[path.Base(r.Dest)] = string(content)
		}
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      SecretName(sessionName),
			Namespace: p.Namespace,
			Labels:    objectLabels(sessionName),
		},
		Data: secretData,
		Type: corev1.SecretTypeOpaque,
	}
	if err := p.applySecret(ctx, secret); err != nil {
		return err
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ConfigMapName(sessionName),
			Namespace: p.Namespace,
			Labels:    objectLabels(sessionName),
		},
		Data: configData,
	}
	return p.applyConfigMap(ctx, cm)
}

func (p *RemoteProjector) applySecret(ctx context.Context, secret *corev1.Secret) error {
	existing := &corev1.Secret{}
	err := p.Client.Get(ctx, client.ObjectKeyFromObject(secret), existing)
	switch {
	case err == nil:
		existing.Data = secret.Data
		existing.Labels = secret.Labels
		if err := p.Client.Update(ctx, existing); err != nil {
			return errkind.New("credentials.Apply", errkind.Unknown, err)
		}
		return nil
	case apierrors.IsNotFound(err):
		if err := p.Client.Create(ctx, secret); err != nil {
			return errkind.New("credentials.Apply", errkind.Unknown, err)
		}
		return nil
	default:
		return errkind.New("credentials.Apply", errkind.Unknown, err)
	}
}

func (p *RemoteProjector) applyConfigMap(ctx context.Context, cm *corev1.ConfigMap) error {
	existing := &corev1.ConfigMap{}
	err := p.Client.Get(ctx, client.ObjectKeyFromObject(cm), existing)
	switch {
	case err == nil:
		existing.Data = cm.Data
		existing.Labels = cm.Labels
		if err := p.Client.Update(ctx, existing); err != nil {
			return errkind.New("credentials.Apply", errkind.Unknown, err)
		}
		return nil
	case apierrors.IsNotFound(err):
		if err := p.Client.Create(ctx, cm); err != nil {
			return errkind.New("credentials.Apply", errkind.Unknown, err)
		}
		return nil
	default:
		return errkind.New("credentials.Apply", errkind.Unknown, err)
	}
}

// Delete removes the projected objects when the session is torn down.
func (p *RemoteProjector) Delete(ctx context.Context, sessionName string) error {
	secret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: SecretName(sessionName), Namespace: p.Namespace}}
	if err := p.Client.Delete(ctx, secret); err != nil && !apierrors.IsNotFound(err) {
		return errkind.New("credentials.Delete", errkind.Transient, err)
	}
	cm := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: ConfigMapName(sessionName), Namespace: p.Namespace}}
	if err := p.Client.Delete(ctx, cm); err != nil && !apierrors.IsNotFound(err) {
		return errkind.New("credentials.Delete", errkind.Transient, err)
	}
	return nil
}
