package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestIdentityResolver_KubeSystemUID(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name        string
		objects     []corev1.Namespace
		expected    string
		expectError bool
	}{
		{
			name: "kube-system present",
			objects: []corev1.Namespace{
				{ObjectMeta: metav1.ObjectMeta{Name: "kube-system", UID: "5f1c2a9e"}},
				{ObjectMeta: metav1.ObjectMeta{Name: "default", UID: "0000"}},
			},
			expected: "5f1c2a9e",
		},
		{
			name:        "kube-system missing",
			objects:     []corev1.Namespace{{ObjectMeta: metav1.ObjectMeta{Name: "default", UID: "0000"}}},
			expectError: true,
		},
		{
			name:        "kube-system without uid",
			objects:     []corev1.Namespace{{ObjectMeta: metav1.ObjectMeta{Name: "kube-system"}}},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kubeClient := fake.NewSimpleClientset()
			for i := range tt.objects {
				_, err := kubeClient.CoreV1().Namespaces().Create(context.Background(), &tt.objects[i], metav1.CreateOptions{})
				require.NoError(t, err)
			}

			resolver := NewIdentityResolver(logger, kubeClient)
			uid, err := resolver.KubeSystemUID(context.Background())

			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, uid)
		})
	}
}
