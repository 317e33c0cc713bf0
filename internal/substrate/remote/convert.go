package remote

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/paude/paude/internal/session"
	"github.com/paude/paude/internal/substrate"
)

// metaToSession recovers the attributes stored on the top-level object:
// the session name from labels, the workspace path and creation instant
// from annotations. Damaged annotations degrade to empty fields.
func metaToSession(labels, annotations map[string]string) session.Session {
	workspace, _ := session.DecodeWorkspace(annotations[substrate.AnnotationWorkspace])
	return session.Session{
		Name:      labels[substrate.LabelSession],
		Backend:   session.BackendRemote,
		CreatedAt: session.ParseCreatedAt(annotations[substrate.AnnotationCreatedAt]),
		Config: session.SessionConfig{
			Name:              labels[substrate.LabelSession],
			WorkspaceDir:      workspace,
			Backend:           session.BackendRemote,
			NetworkRestricted: annotations[substrate.AnnotationRestricted] == "true",
		},
	}
}

// statefulSetToSession derives the session phase from the StatefulSet's
// desired replicas and observed ready replicas: zero desired is stopped,
// ready is running, anything between is pending.
func statefulSetToSession(sts *appsv1.StatefulSet) session.Session {
	phase := session.PhasePending
	if sts.Spec.Replicas != nil && *sts.Spec.Replicas == 0 {
		phase = session.PhaseStopped
	} else if sts.Status.ReadyReplicas > 0 {
		phase = session.PhaseRunning
	}

	image := ""
	if len(sts.Spec.Template.Spec.Containers) > 0 {
		image = sts.Spec.Template.Spec.Containers[0].Image
	}

	s := metaToSession(sts.Labels, sts.Annotations)
	s.ID = sts.Name
	s.Phase = phase
	s.ImageTag = image
	s.Config.Namespace = sts.Namespace
	if s.CreatedAt.IsZero() {
		s.CreatedAt = sts.CreationTimestamp.Time
	}
	return s
}

// podToSession converts a bare Pod into a Session, marking it Legacy so
// callers know it predates the StatefulSet model and supports only
// listing and deletion.
func podToSession(pod *corev1.Pod, legacy bool) session.Session {
	phase := session.PhasePending
	switch pod.Status.Phase {
	case corev1.PodRunning:
		phase = session.PhaseRunning
	case corev1.PodSucceeded, corev1.PodFailed:
		phase = session.PhaseStopped
	}

	image := ""
	if len(pod.Spec.Containers) > 0 {
		image = pod.Spec.Containers[0].Image
	}

	s := metaToSession(pod.Labels, pod.Annotations)
	s.ID = pod.Name
	s.Phase = phase
	s.ImageTag = image
	s.Legacy = legacy
	s.Config.Namespace = pod.Namespace
	if s.Name == "" {
		s.Name = pod.Name
		s.Config.Name = pod.Name
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = pod.CreationTimestamp.Time
	}
	return s
}
