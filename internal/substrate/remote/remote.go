package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/client-go/util/exec"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/paude/paude/internal/egress"
	"github.com/paude/paude/internal/errkind"
	"github.com/paude/paude/internal/session"
	"github.com/paude/paude/internal/substrate"
)

// Backend implements substrate.Backend over a Kubernetes-compatible
// cluster. It pairs a controller-runtime client.Client (typed CRUD with
// IgnoreNotFound) with a raw kubernetes.Interface clientset, which is
// needed only for the exec and log subresources that controller-runtime
// does not expose.
type Backend struct {
	Client     client.Client
	Clientset  kubernetes.Interface
	RESTConfig *rest.Config
	Namespace  string
	cfg        ResourceConfig
}

var _ substrate.Backend = (*Backend)(nil)

// New builds a Backend from a kubeconfig context, the remote equivalent of
// the local backend picking up the ambient engine environment. An empty
// namespace resolves to the active context's namespace, falling back to
// "default".
func New(kubeconfigPath, kubeContext, namespace string) (*Backend, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfigPath != "" {
		loadingRules.ExplicitPath = kubeconfigPath
	}
	overrides := &clientcmd.ConfigOverrides{}
	if kubeContext != "" {
		overrides.CurrentContext = kubeContext
	}
	loader := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)

	restCfg, err := loader.ClientConfig()
	if err != nil {
		return nil, errkind.New("remote.New", errkind.NotAuthenticated, err)
	}

	if namespace == "" {
		namespace, _, err = loader.Namespace()
		if err != nil || namespace == "" {
			namespace = "default"
		}
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, errkind.New("remote.New", errkind.Unknown, err)
	}

	ctrlClient, err := client.New(restCfg, client.Options{Scheme: scheme.Scheme})
	if err != nil {
		return nil, errkind.New("remote.New", errkind.Unknown, err)
	}

	return &Backend{
		Client:     ctrlClient,
		Clientset:  clientset,
		RESTConfig: restCfg,
		Namespace:  namespace,
		cfg:        DefaultResourceConfig(namespace),
	}, nil
}

func (b *Backend) Name() session.Backend { return session.BackendRemote }

func (b *Backend) Ping(ctx context.Context) error {
	if _, err := b.Clientset.Discovery().ServerVersion(); err != nil {
		return errkind.New("remote.Ping", errkind.Unreachable, err)
	}
	if _, err := b.Clientset.CoreV1().Namespaces().Get(ctx, b.Namespace, metav1.GetOptions{}); err != nil {
		if apierrors.IsNotFound(err) {
			return errkind.New("remote.Ping", errkind.NamespaceMissing, err)
		}
		if apierrors.IsUnauthorized(err) {
			return errkind.New("remote.Ping", errkind.NotAuthenticated, err)
		}
		// Listing the namespace object may be forbidden while everything
		// namespaced still works; treat forbidden as reachable.
		if !apierrors.IsForbidden(err) {
			return errkind.New("remote.Ping", errkind.Unreachable, err)
		}
	}
	return nil
}

// Create applies the headless Service first, then the StatefulSet at zero
// replicas, rolling the Service back if the StatefulSet create fails. A
// StatefulSet that already exists is a name collision and reports
// ObjectExists, so create keeps its compare-and-swap semantics without a
// lock: the apiserver's unique-name constraint is the arbiter.
func (b *Backend) Create(ctx context.Context, spec substrate.CreateSpec) (string, error) {
	s := spec.Session
	svc := BuildHeadlessService(b.cfg, s)
	sts := BuildStatefulSet(b.cfg, s)

	if err := b.Client.Create(ctx, svc); err != nil && !apierrors.IsAlreadyExists(err) {
		return "", classifyErr("remote.Create", err)
	}
	if err := b.Client.Create(ctx, sts); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return "", errkind.New("remote.Create", errkind.ObjectExists, err)
		}
		_ = b.Client.Delete(ctx, svc) // roll back the Service we just created
		return "", classifyErr("remote.Create", err)
	}
	return statefulSetName(s.Name), nil
}

func (b *Backend) Start(ctx context.Context, id string) error {
	return b.scale(ctx, id, 1)
}

func (b *Backend) Stop(ctx context.Context, id string) error {
	return b.scale(ctx, id, 0)
}

// scale updates spec.replicas with a conflict-retry loop, the standard
// read-modify-write idiom for mutating live objects.
func (b *Backend) scale(ctx context.Context, name string, replicas int32) error {
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		sts := &appsv1.StatefulSet{}
		if err := b.Client.Get(ctx, client.ObjectKey{Namespace: b.Namespace, Name: name}, sts); err != nil {
			return err
		}
		sts.Spec.Replicas = &replicas
		return b.Client.Update(ctx, sts)
	})
	if err != nil {
		return classifyErr("remote.scale", err)
	}
	return nil
}

// Delete tears down everything labeled with the session: the StatefulSet,
// its headless Service, the PVC the claim template created, the projected
// credential objects, the NetworkPolicy, and the per-session proxy.
// Individual absences are ignored; only a completely absent session
// reports ObjectNotFound. The workload goes first so volume mounts are
// released before the PVC delete, and the proxy goes last so in-flight
// egress is not cut while the workload drains.
func (b *Backend) Delete(ctx context.Context, id string) error {
	name := sessionNameFromID(id)

	found := false
	sts := &appsv1.StatefulSet{ObjectMeta: metav1.ObjectMeta{Name: statefulSetName(name), Namespace: b.Namespace}}
	switch err := b.Client.Delete(ctx, sts); {
	case err == nil:
		found = true
	case !apierrors.IsNotFound(err):
		return classifyErr("remote.Delete", err)
	}

	// Legacy ephemeral pods carry the session labels but no StatefulSet.
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: id, Namespace: b.Namespace}}
	if err := b.Client.Delete(ctx, pod); err == nil {
		found = true
	}

	svc := &corev1.Service{ObjectMeta: metav1.ObjectMeta{Name: serviceName(name), Namespace: b.Namespace}}
	if err := b.Client.Delete(ctx, svc); err == nil {
		found = true
	}

	// The claim template's PVC outlives the StatefulSet by design; session
	// deletion is the one place it goes away.
	pvc := &corev1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{
		Name:      "pvc-" + statefulSetName(name) + "-0",
		Namespace: b.Namespace,
	}}
	_ = client.IgnoreNotFound(b.Client.Delete(ctx, pvc))

	// Supporting objects are label-selected; a failed sweep leaves
	// orphans that the next delete attempt picks up, never a hard error.
	sel := client.MatchingLabels{
		substrate.LabelManagedBy: substrate.ManagedByValue,
		substrate.LabelSession:   name,
	}
	_ = b.Client.DeleteAllOf(ctx, &corev1.Secret{}, client.InNamespace(b.Namespace), sel)
	_ = b.Client.DeleteAllOf(ctx, &corev1.ConfigMap{}, client.InNamespace(b.Namespace), sel)
	_ = b.Client.DeleteAllOf(ctx, &networkingv1.NetworkPolicy{}, client.InNamespace(b.Namespace), sel)
	_ = b.Client.DeleteAllOf(ctx, &appsv1.Deployment{}, client.InNamespace(b.Namespace), sel)

	// Services have no collection delete; the proxy Service goes by name.
	proxySvc := &corev1.Service{ObjectMeta: metav1.ObjectMeta{
		Name:      egress.ProxyName(name),
		Namespace: b.Namespace,
	}}
	_ = client.IgnoreNotFound(b.Client.Delete(ctx, proxySvc))

	if !found {
		return errkind.Newf("remote.Delete", errkind.ObjectNotFound, "session %s not found", name)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, id string) (session.Session, error) {
	name := sessionNameFromID(id)
	sts := &appsv1.StatefulSet{}
	err := b.Client.Get(ctx, client.ObjectKey{Namespace: b.Namespace, Name: statefulSetName(name)}, sts)
	if err == nil {
		s := statefulSetToSession(sts)
		if s.Phase != session.PhaseRunning && s.Phase != session.PhaseStopped {
			// Scaled up but not ready: distinguish pending from crashed.
			if failure := b.podFailure(ctx, podName(name)); failure != "" {
				s.Phase = session.PhaseError
				s.LastError = failure
			}
		}
		return s, nil
	}
	if !apierrors.IsNotFound(err) {
		return session.Session{}, classifyErr("remote.Get", err)
	}

	// Fall back to the legacy single-Pod object.
	pod := &corev1.Pod{}
	if perr := b.Client.Get(ctx, client.ObjectKey{Namespace: b.Namespace, Name: id}, pod); perr != nil {
		return session.Session{}, classifyErr("remote.Get", perr)
	}
	return podToSession(pod, true), nil
}

// podFailure inspects the session pod for terminal container states and
// returns a one-line description, or "" when the pod is absent or healthy.
func (b *Backend) podFailure(ctx context.Context, pod string) string {
	p, err := b.Clientset.CoreV1().Pods(b.Namespace).Get(ctx, pod, metav1.GetOptions{})
	if err != nil {
		return ""
	}
	if p.Status.Phase == corev1.PodFailed {
		return fmt.Sprintf("pod %s failed: %s", pod, p.Status.Reason)
	}
	for _, cs := range p.Status.ContainerStatuses {
		if w := cs.State.Waiting; w != nil {
			switch w.Reason {
			case "ImagePullBackOff", "ErrImagePull", "CrashLoopBackOff", "CreateContainerError":
				return fmt.Sprintf("container %s: %s: %s", cs.Name, w.Reason, w.Message)
			}
		}
	}
	return ""
}

// Diagnose gathers recent events and the tail of the session container's
// log, for attaching to readiness-failure errors.
func (b *Backend) Diagnose(ctx context.Context, id string) string {
	name := sessionNameFromID(id)
	pod := podName(name)
	var buf bytes.Buffer

	events, err := b.Clientset.CoreV1().Events(b.Namespace).List(ctx, metav1.ListOptions{
		FieldSelector: "involvedObject.name=" + pod,
	})
	if err == nil {
		for _, ev := range events.Items {
			fmt.Fprintf(&buf, "%s %s: %s\n", ev.Type, ev.Reason, ev.Message)
		}
	}

	tail := int64(20)
	req := b.Clientset.CoreV1().Pods(b.Namespace).GetLogs(pod, &corev1.PodLogOptions{TailLines: &tail})
	if stream, err := req.Stream(ctx); err == nil {
		_, _ = io.Copy(&buf, stream)
		_ = stream.Close()
	}
	return buf.String()
}

// List enumerates both StatefulSet-backed sessions and any legacy bare
// pods matching the managed-by label, so a pre-StatefulSet session still
// shows up for listing and deletion.
func (b *Backend) List(ctx context.Context) ([]session.Session, error) {
	var stsList appsv1.StatefulSetList
	if err := b.Client.List(ctx, &stsList, client.InNamespace(b.Namespace),
		client.MatchingLabels{substrate.LabelManagedBy: substrate.ManagedByValue}); err != nil {
		return nil, classifyErr("remote.List", err)
	}
	managed := make(map[string]bool, len(stsList.Items))
	var out []session.Session
	for i := range stsList.Items {
		out = append(out, statefulSetToSession(&stsList.Items[i]))
		managed[stsList.Items[i].Name] = true
	}

	var podList corev1.PodList
	if err := b.Client.List(ctx, &podList, client.InNamespace(b.Namespace),
		client.MatchingLabels{substrate.LabelManagedBy: substrate.ManagedByValue}); err != nil {
		return nil, classifyErr("remote.List", err)
	}
	for i := range podList.Items {
		pod := &podList.Items[i]
		if ownedByStatefulSet(pod) || pod.Labels[substrate.LabelComponent] == substrate.ComponentProxy {
			continue
		}
		out = append(out, podToSession(pod, true))
	}
	return out, nil
}

func ownedByStatefulSet(pod *corev1.Pod) bool {
	for _, ref := range pod.OwnerReferences {
		if ref.Kind == "StatefulSet" {
			return true
		}
	}
	return false
}

// sessionNameFromID accepts either a session name or the conventional
// StatefulSet name and returns the session name.
func sessionNameFromID(id string) string {
	return strings.TrimPrefix(id, "paude-")
}

func classifyErr(op string, err error) error {
	switch {
	case apierrors.IsNotFound(err):
		return errkind.New(op, errkind.ObjectNotFound, err)
	case apierrors.IsAlreadyExists(err):
		return errkind.New(op, errkind.ObjectExists, err)
	case apierrors.IsUnauthorized(err):
		return errkind.New(op, errkind.NotAuthenticated, err)
	case apierrors.IsForbidden(err):
		return errkind.New(op, errkind.PermissionDenied, err)
	case apierrors.IsTimeout(err), apierrors.IsServerTimeout(err):
		return errkind.New(op, errkind.Timeout, err)
	default:
		return errkind.New(op, errkind.Unknown, err)
	}
}

// Exec streams a command into the session's pod via the exec subresource:
// a PodExecOptions REST request driven through remotecommand's SPDY
// executor. Terminal size updates are fed through the executor's
// TerminalSizeQueue; a nonzero remote exit surfaces as *substrate.ExitError.
func (b *Backend) Exec(ctx context.Context, id string, opts substrate.ExecOptions, streams substrate.ExecStreams) error {
	target := podName(sessionNameFromID(id))
	if _, err := b.Clientset.CoreV1().Pods(b.Namespace).Get(ctx, target, metav1.GetOptions{}); err != nil {
		target = id // id may already be a bare pod name (legacy path)
	}

	req := b.Clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(target).
		Namespace(b.Namespace).
		SubResource("exec")

	req.VersionedParams(&corev1.PodExecOptions{
		Container: "session",
		Command:   opts.Command,
		Stdin:     opts.Stdin,
		Stdout:    true,
		Stderr:    !opts.TTY,
		TTY:       opts.TTY,
	}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(b.RESTConfig, "POST", req.URL())
	if err != nil {
		return errkind.New("remote.Exec", errkind.Unknown, err)
	}

	streamOpts := remotecommand.StreamOptions{
		Tty:    opts.TTY,
		Stdout: streams.Stdout,
		Stderr: streams.Stderr,
	}
	if opts.Stdin && streams.Stdin != nil {
		streamOpts.Stdin = streams.Stdin
	}
	if streams.Resize != nil {
		streamOpts.TerminalSizeQueue = sizeQueue{ch: streams.Resize}
	}

	if err := executor.StreamWithContext(ctx, streamOpts); err != nil {
		var exitErr utilexec.CodeExitError
		if errors.As(err, &exitErr) {
			return &substrate.ExitError{Code: exitErr.Code}
		}
		return errkind.New("remote.Exec", errkind.Unknown, err)
	}
	return nil
}

// sizeQueue adapts the ExecStreams.Resize channel to remotecommand's
// TerminalSizeQueue interface.
type sizeQueue struct {
	ch <-chan substrate.TerminalSize
}

func (q sizeQueue) Next() *remotecommand.TerminalSize {
	size, ok := <-q.ch
	if !ok {
		return nil
	}
	return &remotecommand.TerminalSize{Width: size.Width, Height: size.Height}
}
