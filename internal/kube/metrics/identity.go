package metrics

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const kubeSystemNamespace = "kube-system"

// IdentityResolver looks up identifiers that distinguish one cluster from another
type IdentityResolver struct {
	logger     *zap.Logger
	kubeClient kubernetes.Interface
}

// NewIdentityResolver creates a new identity resolver
func NewIdentityResolver(logger *zap.Logger, kubeClient kubernetes.Interface) *IdentityResolver {
	return &IdentityResolver{
		logger:     logger,
		kubeClient: kubeClient,
	}
}

// KubeSystemUID returns the UID of the kube-system namespace, which is stable
// for the lifetime of a cluster
func (ir *IdentityResolver) KubeSystemUID(ctx context.Context) (string, error) {
	ns, err := ir.kubeClient.CoreV1().Namespaces().Get(ctx, kubeSystemNamespace, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get %s namespace: %w", kubeSystemNamespace, err)
	}

	uid := string(ns.UID)
	if uid == "" {
		return "", fmt.Errorf("%s namespace has no UID", kubeSystemNamespace)
	}

	ir.logger.Debug("Resolved kube-system UID", zap.String("uid", uid))
	return uid, nil
}
