// Package remote implements the substrate.Backend interface over a
// Kubernetes-compatible cluster: a StatefulSet + headless Service + PVC
// per session, so the session's workspace and identity survive pod
// restarts and reattachment. The StatefulSet is created at zero replicas;
// starting a session is a scale to one.
package remote

import (
	"sort"
	"strconv"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/paude/paude/internal/credentials"
	"github.com/paude/paude/internal/session"
	"github.com/paude/paude/internal/substrate"
)

// WorkspaceMountPath is where the session PVC's workspace tree lives in
// the pod; workspace sync targets this path.
const (
	PVCMountPath       = "/pvc"
	WorkspaceMountPath = "/pvc/workspace"
)

// ResourceConfig carries the defaults a session's StatefulSet is built
// from. Per-session values on SessionConfig override the storage fields.
type ResourceConfig struct {
	Namespace     string
	MemoryRequest string
	CPURequest    string
	MemoryLimit   string
	CPULimit      string
	StorageSize   string
	StorageClass  string
}

func DefaultResourceConfig(namespace string) ResourceConfig {
	return ResourceConfig{
		Namespace:     namespace,
		MemoryRequest: "512Mi",
		CPURequest:    "250m",
		MemoryLimit:   "2Gi",
		CPULimit:      "2",
		StorageSize:   "10Gi",
	}
}

func selectorLabels(s session.Session) map[string]string {
	return map[string]string{
		substrate.LabelManagedBy: substrate.ManagedByValue,
		substrate.LabelSession:   s.Name,
		substrate.LabelComponent: substrate.ComponentWorkload,
	}
}

func sessionAnnotations(s session.Session) map[string]string {
	return map[string]string{
		substrate.AnnotationWorkspace:  session.EncodeWorkspace(s.Config.WorkspaceDir),
		substrate.AnnotationCreatedAt:  session.FormatCreatedAt(s.CreatedAt),
		substrate.AnnotationRestricted: strconv.FormatBool(s.Config.NetworkRestricted),
	}
}

// BuildHeadlessService returns the stable-network-identity Service a
// session's StatefulSet pod is addressed through for exec/connect.
func BuildHeadlessService(cfg ResourceConfig, s session.Session) *corev1.Service {
	labels := selectorLabels(s)
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:        serviceName(s.Name),
			Namespace:   cfg.Namespace,
			Labels:      labels,
			Annotations: sessionAnnotations(s),
		},
		Spec: corev1.ServiceSpec{
			ClusterIP: corev1.ClusterIPNone,
			Selector:  labels,
			Ports: []corev1.ServicePort{
				{Name: "tmux", Port: 22000, TargetPort: intstr.FromInt(22000)},
			},
		},
	}
}

// buildPodEnv renders the same PAUDE_* contract the local backend sets,
// with the workspace path fixed to the PVC mount.
func buildPodEnv(s session.Session) []corev1.EnvVar {
	env := []corev1.EnvVar{
		{Name: "PAUDE_SESSION_NAME", Value: s.Name},
		{Name: "PAUDE_BACKEND", Value: "remote"},
		{Name: "PAUDE_WORKSPACE", Value: WorkspaceMountPath},
		{Name: "PAUDE_CLAUDE_ARGS", Value: strings.Join(s.Config.ClaudeArgs(), " ")},
		{Name: "PAUDE_POD_NAME", ValueFrom: &corev1.EnvVarSource{
			FieldRef: &corev1.ObjectFieldSelector{FieldPath: "metadata.name"},
		}},
	}
	if s.Config.CredentialTimeoutMinutes > 0 {
		env = append(env,
			corev1.EnvVar{Name: "PAUDE_CREDENTIAL_TIMEOUT", Value: strconv.Itoa(s.Config.CredentialTimeoutMinutes)},
			corev1.EnvVar{Name: "PAUDE_CREDENTIAL_WATCHDOG", Value: "1"},
		)
	}
	if s.Config.NetworkRestricted && s.Config.Egress.Listen != "" {
		proxyURL := "http://" + s.Config.Egress.Listen
		for _, name := range []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy"} {
			env = append(env, corev1.EnvVar{Name: name, Value: proxyURL})
		}
	}
	keys := make([]string, 0, len(s.Config.Env))
	for k := range s.Config.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, corev1.EnvVar{Name: k, Value: s.Config.Env[k]})
	}
	return env
}

// BuildStatefulSet returns the per-session workload: zero replicas until
// started, one PVC claim template for /pvc, the projected credential
// volumes, and the session's resolved image.
func BuildStatefulSet(cfg ResourceConfig, s session.Session) *appsv1.StatefulSet {
	labels := selectorLabels(s)
	replicas := int32(0)

	storageSize := cfg.StorageSize
	if s.Config.PVCSize != "" {
		storageSize = s.Config.PVCSize
	}
	storageQty := resource.MustParse(storageSize)

	pvcSpec := corev1.PersistentVolumeClaimSpec{
		AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
		Resources: corev1.VolumeResourceRequirements{
			Requests: corev1.ResourceList{corev1.ResourceStorage: storageQty},
		},
	}
	storageClass := cfg.StorageClass
	if s.Config.StorageClass != "" {
		storageClass = s.Config.StorageClass
	}
	if storageClass != "" {
		pvcSpec.StorageClassName = &storageClass
	}

	volumes, volumeMounts := credentialVolumes(s)

	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:        statefulSetName(s.Name),
			Namespace:   cfg.Namespace,
			Labels:      labels,
			Annotations: sessionAnnotations(s),
		},
		Spec: appsv1.StatefulSetSpec{
			Replicas:    &replicas,
			ServiceName: serviceName(s.Name),
			Selector:    &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  "session",
							Image: s.ImageTag,
							Env:   buildPodEnv(s),
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceMemory: resource.MustParse(cfg.MemoryRequest),
									corev1.ResourceCPU:    resource.MustParse(cfg.CPURequest),
								},
								Limits: corev1.ResourceList{
									corev1.ResourceMemory: resource.MustParse(cfg.MemoryLimit),
									corev1.ResourceCPU:    resource.MustParse(cfg.CPULimit),
								},
							},
							VolumeMounts: append([]corev1.VolumeMount{
								{Name: "pvc", MountPath: PVCMountPath},
							}, volumeMounts...),
						},
					},
					Volumes: volumes,
				},
			},
			VolumeClaimTemplates: []corev1.PersistentVolumeClaim{
				{
					ObjectMeta: metav1.ObjectMeta{Name: "pvc"},
					Spec:       pvcSpec,
				},
			},
		},
	}
}

// credentialVolumes wires the session's projected credential objects into
// the pod: one Secret volume for sensitive files, one ConfigMap volume
// for the rest, mounted read-only at the fixed paths /tmp/claude.seed and
// /home/paude/.paude-config; the projection's destination paths do not
// affect the mounts. Sessions with no resolved credentials get no volumes.
func credentialVolumes(s session.Session) ([]corev1.Volume, []corev1.VolumeMount) {
	if len(s.Config.Credentials.Allowlist) == 0 {
		return nil, nil
	}
	readOnly := true
	optional := true

	volumes := []corev1.Volume{
		{
			Name: "credentials",
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{
					SecretName: credentials.SecretName(s.Name),
					Optional:   &optional,
				},
			},
		},
		{
			Name: "credential-config",
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{Name: credentials.ConfigMapName(s.Name)},
					Optional:             &optional,
				},
			},
		},
	}
	mounts := []corev1.VolumeMount{
		{Name: "credentials", MountPath: "/tmp/claude.seed", ReadOnly: readOnly},
		{Name: "credential-config", MountPath: "/home/paude/.paude-config", ReadOnly: readOnly},
	}
	return volumes, mounts
}

func serviceName(sessionName string) string     { return "paude-" + sessionName }
func statefulSetName(sessionName string) string { return "paude-" + sessionName }
func podName(sessionName string) string         { return statefulSetName(sessionName) + "-0" }
