package image

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/paude/paude/internal/errkind"
)

// DeliveryConfig describes how images reach the remote cluster.
type DeliveryConfig struct {
	// ExternalRegistry is a user-provided registry prefix the cluster can
	// pull from, e.g. "registry.example.com/team". Empty disables the
	// external-registry strategy.
	ExternalRegistry string
	// ExternalAuth is the engine-format registry auth blob for
	// ExternalRegistry, already base64-encoded. Empty means the engine's
	// own config supplies auth.
	ExternalAuth string
	// InternalRegistryHost is the cluster registry's externally exposed
	// hostname, when the cluster exposes one. Empty disables the
	// internal-registry strategy.
	InternalRegistryHost string
	// RegistryNamespace is where the port-forward strategy looks for a
	// running registry pod. RegistryService is not read by any strategy.
	RegistryNamespace string
	RegistryService   string
}

func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		RegistryNamespace: "openshift-image-registry",
		RegistryService:   "image-registry",
	}
}

// Deliverer pushes a locally built image somewhere the cluster can pull
// it, trying each configured strategy in order and falling through on
// RegistryUnreachable. The returned reference is what the StatefulSet
// should use as its image.
type Deliverer struct {
	Pipeline   *Pipeline
	Clientset  kubernetes.Interface
	RESTConfig *rest.Config
	Namespace  string
	Config     DeliveryConfig
}

// Deliver tries, in order: the user's external registry, the cluster's
// exposed internal registry, and a port-forwarded push to the internal
// registry service. All-strategies-exhausted is fatal with a remedy
// pointing at the external-registry option.
func (d *Deliverer) Deliver(ctx context.Context, localTag string) (string, error) {
	var errs []string

	if d.Config.ExternalRegistry != "" {
		ref := joinRef(d.Config.ExternalRegistry, localTag)
		err := d.Pipeline.PushTo(ctx, localTag, ref, d.Config.ExternalAuth)
		if err == nil {
			return ref, nil
		}
		if !errkind.Is(err, errkind.RegistryUnreachable) {
			return "", err
		}
		errs = append(errs, fmt.Sprintf("%s: %v", StrategyRegistryPush, err))
	}

	if d.Config.InternalRegistryHost != "" {
		ref := joinRef(d.Config.InternalRegistryHost+"/"+d.Namespace, localTag)
		err := d.Pipeline.PushTo(ctx, localTag, ref, d.tokenAuth())
		if err == nil {
			// The pod pulls via the registry's in-cluster name, not the
			// external route.
			return joinRef("image-registry.openshift-image-registry.svc:5000/"+d.Namespace, localTag), nil
		}
		if !errkind.Is(err, errkind.RegistryUnreachable) {
			return "", err
		}
		errs = append(errs, fmt.Sprintf("%s: %v", StrategyInternalPush, err))
	}

	ref, err := d.deliverViaPortForward(ctx, localTag)
	if err == nil {
		return ref, nil
	}
	errs = append(errs, fmt.Sprintf("%s: %v", StrategyPortForwardPush, err))

	return "", errkind.Newf("image.Deliver", errkind.RegistryUnreachable,
		"no image delivery strategy succeeded:\n  %s\nconfigure an external registry reachable by the cluster (PAUDE_REGISTRY) and retry",
		strings.Join(errs, "\n  "))
}

// tokenAuth renders the kubeconfig bearer token as an engine registry
// auth blob, the login the cluster's exposed registry accepts.
func (d *Deliverer) tokenAuth() string {
	if d.RESTConfig == nil || d.RESTConfig.BearerToken == "" {
		return ""
	}
	blob, err := json.Marshal(map[string]string{
		"username": "unused",
		"password": d.RESTConfig.BearerToken,
	})
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(blob)
}

// deliverViaPortForward opens an ephemeral port-forward to the internal
// registry's service and pushes through localhost. Connection resets on
// large images are a known failure mode of this path; they surface as
// RegistryUnreachable so Deliver's caller can print the remedy.
func (d *Deliverer) deliverViaPortForward(ctx context.Context, localTag string) (string, error) {
	pod, err := d.registryPod(ctx)
	if err != nil {
		return "", err
	}

	transport, upgrader, err := spdy.RoundTripperFor(d.RESTConfig)
	if err != nil {
		return "", errkind.New("image.portforward", errkind.Unknown, err)
	}
	req := d.Clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(d.Config.RegistryNamespace).
		Name(pod).
		SubResource("portforward")
	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, "POST", req.URL())

	stopCh := make(chan struct{})
	readyCh := make(chan struct{})
	defer close(stopCh)

	fw, err := portforward.New(dialer, []string{"0:5000"}, stopCh, readyCh, nil, nil)
	if err != nil {
		return "", errkind.New("image.portforward", errkind.Unknown, err)
	}

	fwErr := make(chan error, 1)
	go func() { fwErr <- fw.ForwardPorts() }()

	select {
	case <-readyCh:
	case err := <-fwErr:
		return "", errkind.New("image.portforward", errkind.RegistryUnreachable, err)
	case <-ctx.Done():
		return "", ctx.Err()
	}

	ports, err := fw.GetPorts()
	if err != nil || len(ports) == 0 {
		return "", errkind.Newf("image.portforward", errkind.RegistryUnreachable, "no forwarded port")
	}
	localRef := joinRef(fmt.Sprintf("localhost:%d/%s", ports[0].Local, d.Namespace), localTag)

	log.Printf("[image] pushing %s through port-forward", localRef)
	if err := d.Pipeline.PushTo(ctx, localTag, localRef, d.tokenAuth()); err != nil {
		return "", err
	}
	return joinRef("image-registry.openshift-image-registry.svc:5000/"+d.Namespace, localTag), nil
}

// registryPod finds a running pod backing the internal registry service.
func (d *Deliverer) registryPod(ctx context.Context) (string, error) {
	pods, err := d.Clientset.CoreV1().Pods(d.Config.RegistryNamespace).List(ctx, metav1.ListOptions{
		LabelSelector: "docker-registry=default",
	})
	if err != nil || len(pods.Items) == 0 {
		// Newer clusters label the registry differently; fall back to
		// every pod in the registry namespace.
		pods, err = d.Clientset.CoreV1().Pods(d.Config.RegistryNamespace).List(ctx, metav1.ListOptions{})
		if err != nil {
			return "", errkind.New("image.portforward", errkind.RegistryUnreachable, err)
		}
	}
	for _, pod := range pods.Items {
		if pod.Status.Phase == corev1.PodRunning {
			return pod.Name, nil
		}
	}
	return "", errkind.Newf("image.portforward", errkind.RegistryUnreachable,
		"no running registry pod in namespace %s", d.Config.RegistryNamespace)
}

// joinRef rewrites localTag's repository onto prefix, keeping the tag:
// joinRef("reg.example.com/team", "paude-session:ab12-amd64") is
// "reg.example.com/team/paude-session:ab12-amd64".
func joinRef(prefix, localTag string) string {
	repoAndTag := localTag
	if idx := strings.LastIndex(localTag, "/"); idx >= 0 {
		repoAndTag = localTag[idx+1:]
	}
	return strings.TrimSuffix(prefix, "/") + "/" + repoAndTag
}
