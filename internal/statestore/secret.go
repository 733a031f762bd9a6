package statestore

import (
	"context"
	"fmt"
	"sort"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"oidcflow/internal/config"
	"oidcflow/pkg/logging"
	"oidcflow/pkg/oauth"
)

const (
	// SecretDataKey is the Secret data key holding the serialized record.
	SecretDataKey = "state"

	// SessionKeyAnnotation records the session key on each Secret.
	SessionKeyAnnotation = "oidcflow.io/session-key"

	managedByLabel = "app.kubernetes.io/managed-by"
	managedByValue = "oidcflow"
)

// SecretStore keeps one Kubernetes Secret per session.
type SecretStore struct {
	client       client.Client
	namespace    string
	secretPrefix string
}

// NewSecretStore creates a store using an existing controller-runtime client.
func NewSecretStore(k8sClient client.Client, cfg config.KubernetesStorageConfig) *SecretStore {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = config.DefaultNamespace
	}
	prefix := cfg.SecretPrefix
	if prefix == "" {
		prefix = config.DefaultSecretPrefix
	}
	return &SecretStore{
		client:       k8sClient,
		namespace:    namespace,
		secretPrefix: prefix,
	}
}

// NewSecretStoreFromKubeconfig builds a client from the ambient kubeconfig
// or in-cluster configuration.
func NewSecretStoreFromKubeconfig(cfg config.KubernetesStorageConfig) (*SecretStore, error) {
	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load Kubernetes configuration: %w", err)
	}

	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	k8sClient, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}
	return NewSecretStore(k8sClient, cfg), nil
}

func (s *SecretStore) secretName(key string) string {
	return s.secretPrefix + hashKey(key)
}

func (s *SecretStore) Load(ctx context.Context, key string) (*oauth.AuthState, error) {
	secret := &corev1.Secret{}
	if err := s.client.Get(ctx, client.ObjectKey{
		Name:      s.secretName(key),
		Namespace: s.namespace,
	}, secret); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get secret %s/%s: %w", s.namespace, s.secretName(key), err)
	}

	data, ok := secret.Data[SecretDataKey]
	if !ok {
		return nil, fmt.Errorf("secret %s/%s missing required key '%s'", s.namespace, secret.Name, SecretDataKey)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	return rec.authState()
}

func (s *SecretStore) Save(ctx context.Context, key string, state *oauth.AuthState) error {
	data, err := encodeRecord(key, state)
	if err != nil {
		return err
	}

	name := s.secretName(key)
	secret := &corev1.Secret{}
	err = s.client.Get(ctx, client.ObjectKey{Name: name, Namespace: s.namespace}, secret)
	switch {
	case apierrors.IsNotFound(err):
		secret = &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Name:        name,
				Namespace:   s.namespace,
				Labels:      map[string]string{managedByLabel: managedByValue},
				Annotations: map[string]string{SessionKeyAnnotation: key},
			},
			Type: corev1.SecretTypeOpaque,
			Data: map[string][]byte{SecretDataKey: data},
		}
		if err := s.client.Create(ctx, secret); err != nil {
			return fmt.Errorf("failed to create secret %s/%s: %w", s.namespace, name, err)
		}
	case err != nil:
		return fmt.Errorf("failed to get secret %s/%s: %w", s.namespace, name, err)
	default:
		if secret.Data == nil {
			secret.Data = map[string][]byte{}
		}
		secret.Data[SecretDataKey] = data
		if err := s.client.Update(ctx, secret); err != nil {
			return fmt.Errorf("failed to update secret %s/%s: %w", s.namespace, name, err)
		}
	}

	logging.Audit("state_saved", "Authorization state stored", "key", key, "backend", "kubernetes",
		"secret", s.namespace+"/"+name)
	return nil
}

func (s *SecretStore) Delete(ctx context.Context, key string) error {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      s.secretName(key),
			Namespace: s.namespace,
		},
	}
	if err := s.client.Delete(ctx, secret); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete secret %s/%s: %w", s.namespace, secret.Name, err)
	}
	logging.Audit("state_deleted", "Authorization state deleted", "key", key, "backend", "kubernetes")
	return nil
}

func (s *SecretStore) List(ctx context.Context) ([]string, error) {
	list := &corev1.SecretList{}
	if err := s.client.List(ctx, list,
		client.InNamespace(s.namespace),
		client.MatchingLabels{managedByLabel: managedByValue},
	); err != nil {
		return nil, fmt.Errorf("failed to list secrets in %s: %w", s.namespace, err)
	}

	var keys []string
	for _, secret := range list.Items {
		key, ok := secret.Annotations[SessionKeyAnnotation]
		if !ok {
			logging.Warn("StateStore", "Secret %s/%s has no session key annotation", secret.Namespace, secret.Name)
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
