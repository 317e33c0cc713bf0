package remote

import (
	"testing"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"gotest.tools/v3/assert"

	"github.com/paude/paude/internal/session"
	"github.com/paude/paude/internal/substrate"
)

func stsFor(name string, desired, ready int32) *appsv1.StatefulSet {
	created := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "paude-" + name,
			Namespace: "dev",
			Labels: map[string]string{
				substrate.LabelManagedBy: substrate.ManagedByValue,
				substrate.LabelSession:   name,
			},
			Annotations: map[string]string{
				substrate.AnnotationWorkspace:  session.EncodeWorkspace("/home/dev/" + name),
				substrate.AnnotationCreatedAt:  session.FormatCreatedAt(created),
				substrate.AnnotationRestricted: "true",
			},
		},
		Spec: appsv1.StatefulSetSpec{
			Replicas: &desired,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Image: "paude-session:abcdef012345"}},
				},
			},
		},
		Status: appsv1.StatefulSetStatus{ReadyReplicas: ready},
	}
}

func TestStatefulSetToSessionPhases(t *testing.T) {
	assert.Equal(t, statefulSetToSession(stsFor("a", 0, 0)).Phase, session.PhaseStopped)
	assert.Equal(t, statefulSetToSession(stsFor("b", 1, 0)).Phase, session.PhasePending)
	assert.Equal(t, statefulSetToSession(stsFor("c", 1, 1)).Phase, session.PhaseRunning)
}

func TestStatefulSetToSessionRecoversAnnotations(t *testing.T) {
	s := statefulSetToSession(stsFor("widget", 1, 1))
	assert.Equal(t, s.Name, "widget")
	assert.Equal(t, s.Config.WorkspaceDir, "/home/dev/widget")
	assert.Assert(t, s.Config.NetworkRestricted)
	assert.Equal(t, s.Config.Namespace, "dev")
	assert.Equal(t, s.ImageTag, "paude-session:abcdef012345")
	assert.Equal(t, s.CreatedAt.Year(), 2025)
}

func TestPodToSessionMarksLegacy(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "paude-old-thing",
			Namespace: "dev",
			Labels: map[string]string{
				substrate.LabelManagedBy: substrate.ManagedByValue,
			},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}

	s := podToSession(pod, true)
	assert.Assert(t, s.Legacy)
	assert.Equal(t, s.Phase, session.PhaseRunning)
	assert.Equal(t, s.Name, "paude-old-thing")
}

func TestSessionNameFromID(t *testing.T) {
	assert.Equal(t, sessionNameFromID("paude-demo"), "demo")
	assert.Equal(t, sessionNameFromID("demo"), "demo")
	assert.Equal(t, podName("demo"), "paude-demo-0")
}
