package egress

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/paude/paude/internal/errkind"
	"github.com/paude/paude/internal/substrate"
)

func proxyLabels(sessionName string) map[string]string {
	return map[string]string{
		substrate.LabelManagedBy: substrate.ManagedByValue,
		substrate.LabelSession:   sessionName,
		substrate.LabelComponent: substrate.ComponentProxy,
	}
}

func sessionLabels(sessionName string) map[string]string {
	return map[string]string{
		substrate.LabelManagedBy: substrate.ManagedByValue,
		substrate.LabelSession:   sessionName,
	}
}

// BuildNetworkPolicy constructs the NetworkPolicy that confines a
// session's egress to DNS resolution and the proxy pods' CONNECT port.
// Destinations are pod selectors, never IP blocks: published provider
// ranges drift, label selectors don't.
//
// The DNS rule's single destination carries an empty PodSelector AND an
// empty NamespaceSelector together in one peer; splitting them into two
// peers fails to match cross-namespace DNS pods on common SDN
// implementations.
func BuildNetworkPolicy(sessionName, namespace string, podSelector map[string]string) *networkingv1.NetworkPolicy {
	tcp := corev1.ProtocolTCP
	udp := corev1.ProtocolUDP
	dnsPort := intstr.FromInt(53)
	mdnsPort := intstr.FromInt(5353)
	proxyPort := intstr.FromInt(ProxyPort)

	return &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      PolicyName(sessionName),
			Namespace: namespace,
			Labels:    sessionLabels(sessionName),
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{MatchLabels: podSelector},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeEgress},
			Egress: []networkingv1.NetworkPolicyEgressRule{
				{
					To: []networkingv1.NetworkPolicyPeer{
						{
							PodSelector:       &metav1.LabelSelector{},
							NamespaceSelector: &metav1.LabelSelector{},
						},
					},
					Ports: []networkingv1.NetworkPolicyPort{
						{Protocol: &udp, Port: &dnsPort},
						{Protocol: &tcp, Port: &dnsPort},
						{Protocol: &udp, Port: &mdnsPort},
					},
				},
				{
					To: []networkingv1.NetworkPolicyPeer{
						{PodSelector: &metav1.LabelSelector{MatchLabels: proxyLabels(sessionName)}},
					},
					Ports: []networkingv1.NetworkPolicyPort{
						{Protocol: &tcp, Port: &proxyPort},
					},
				},
			},
		},
	}
}

// BuildAllowAllPolicy is the opt-out shape applied when the user passed
// --allow-network: a policy that selects the workload but permits all
// egress, so toggling restriction later is an update, not a create/delete.
func BuildAllowAllPolicy(sessionName, namespace string, podSelector map[string]string) *networkingv1.NetworkPolicy {
	return &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      PolicyName(sessionName),
			Namespace: namespace,
			Labels:    sessionLabels(sessionName),
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{MatchLabels: podSelector},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeEgress},
			Egress:      []networkingv1.NetworkPolicyEgressRule{{}},
		},
	}
}

// BuildProxyDeployment returns the per-session forward proxy workload.
// Unlike the session itself the proxy has no confining policy; its own
// image enforces the hostname allowlist.
func BuildProxyDeployment(sessionName, namespace, proxyImage string) *appsv1.Deployment {
	labels := proxyLabels(sessionName)
	replicas := int32(1)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ProxyName(sessionName),
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  "proxy",
							Image: proxyImage,
							Ports: []corev1.ContainerPort{
								{Name: "proxy", ContainerPort: ProxyPort},
							},
							ReadinessProbe: &corev1.Probe{
								ProbeHandler: corev1.ProbeHandler{
									TCPSocket: &corev1.TCPSocketAction{Port: intstr.FromInt(ProxyPort)},
								},
								InitialDelaySeconds: 1,
								PeriodSeconds:       2,
							},
						},
					},
				},
			},
		},
	}
}

// BuildProxyService gives workloads a stable DNS name for the proxy.
func BuildProxyService(sessionName, namespace string) *corev1.Service {
	labels := proxyLabels(sessionName)
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ProxyName(sessionName),
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			Selector: labels,
			Ports: []corev1.ServicePort{
				{Name: "proxy", Port: ProxyPort, TargetPort: intstr.FromInt(ProxyPort)},
			},
		},
	}
}

// Applier creates, inspects, and deletes a session's egress objects on
// the remote cluster.
type Applier struct {
	Client    client.Client
	Namespace string
}

// apply creates obj or updates it in place when it already exists.
func (a *Applier) apply(ctx context.Context, obj client.Object) error {
	err := a.Client.Create(ctx, obj)
	if err == nil {
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return errkind.New("egress.apply", errkind.Unknown, err)
	}

	existing := obj.DeepCopyObject().(client.Object)
	if err := a.Client.Get(ctx, client.ObjectKeyFromObject(obj), existing); err != nil {
		return errkind.New("egress.apply", errkind.Unknown, err)
	}
	obj.SetResourceVersion(existing.GetResourceVersion())
	if err := a.Client.Update(ctx, obj); err != nil {
		return errkind.New("egress.apply", errkind.Unknown, err)
	}
	return nil
}

// Ensure materializes the session's egress wiring: the NetworkPolicy (the
// confining shape or the allow-all opt-out), and the proxy
// Deployment+Service when restriction is on.
func (a *Applier) Ensure(ctx context.Context, sessionName string, podSelector map[string]string, proxyImage string, restricted bool) error {
	if !restricted {
		return a.apply(ctx, BuildAllowAllPolicy(sessionName, a.Namespace, podSelector))
	}
	if err := a.apply(ctx, BuildNetworkPolicy(sessionName, a.Namespace, podSelector)); err != nil {
		return err
	}
	if err := a.apply(ctx, BuildProxyDeployment(sessionName, a.Namespace, proxyImage)); err != nil {
		return err
	}
	return a.apply(ctx, BuildProxyService(sessionName, a.Namespace))
}

// ProxyReady reports whether the session's proxy deployment has a ready
// replica. Sessions created with --allow-network have no proxy; they are
// trivially ready.
func (a *Applier) ProxyReady(ctx context.Context, sessionName string) (bool, error) {
	dep := &appsv1.Deployment{}
	err := a.Client.Get(ctx, client.ObjectKey{Namespace: a.Namespace, Name: ProxyName(sessionName)}, dep)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return true, nil
		}
		return false, errkind.New("egress.ProxyReady", errkind.Unknown, err)
	}
	return dep.Status.ReadyReplicas > 0, nil
}

// Delete removes the session's policy and proxy objects. Missing pieces
// are not errors; delete is a sweep of what exists.
func (a *Applier) Delete(ctx context.Context, sessionName string) error {
	objs := []client.Object{
		&networkingv1.NetworkPolicy{ObjectMeta: metav1.ObjectMeta{Name: PolicyName(sessionName), Namespace: a.Namespace}},
		&appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: ProxyName(sessionName), Namespace: a.Namespace}},
		&corev1.Service{ObjectMeta: metav1.ObjectMeta{Name: ProxyName(sessionName), Namespace: a.Namespace}},
	}
	for _, obj := range objs {
		if err := a.Client.Delete(ctx, obj); err != nil && !apierrors.IsNotFound(err) {
			return errkind.New("egress.Delete", errkind.Transient, err)
		}
	}
	return nil
}
