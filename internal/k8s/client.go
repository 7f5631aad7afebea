// Package k8s wraps the Kubernetes client used by every orchestrator
// component. The client is constructed once and injected; no package-level
// singletons.
package k8s

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
)

// Client wraps the Kubernetes clientset together with the REST config needed
// for exec streams.
type Client struct {
	clientset  kubernetes.Interface
	restConfig *rest.Config
}

// NewClient creates a new Kubernetes client from in-cluster credentials or a
// kubeconfig file.
func NewClient(inCluster bool, kubeConfigPath string) (*Client, error) {
	var config *rest.Config
	var err error

	if inCluster {
		config, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create in-cluster config: %w", err)
		}
	} else {
		if kubeConfigPath == "" {
			kubeConfigPath = clientcmd.RecommendedHomeFile
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubeconfig: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create K8s clientset: %w", err)
	}

	return &Client{
		clientset:  clientset,
		restConfig: config,
	}, nil
}

// NewClientFromClientset wraps an existing clientset. Used by tests with the
// fake clientset; the resulting client cannot open exec streams.
func NewClientFromClientset(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset}
}

// Clientset returns the underlying K8s clientset
func (c *Client) Clientset() kubernetes.Interface {
	return c.clientset
}

// RESTConfig returns the REST config the clientset was built from, or nil
// for test clients.
func (c *Client) RESTConfig() *rest.Config {
	return c.restConfig
}

// NewExecutor builds a SPDY executor for an interactive exec into the given
// container. The stream is TTY-enabled, which merges stderr into stdout; a
// separate stderr stream is rejected by the kubelet in TTY mode.
func (c *Client) NewExecutor(ctx context.Context, namespace, podName, container string, command []string) (remotecommand.Executor, error) {
	if c.restConfig == nil {
		return nil, fmt.Errorf("exec is not available without a REST config")
	}

	req := c.clientset.CoreV1().RESTClient().
		Post().
		Resource("pods").
		Name(podName).
		Namespace(namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: container,
			Command:   command,
			Stdin:     true,
			Stdout:    true,
			Stderr:    false,
			TTY:       true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(c.restConfig, "POST", req.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to create exec stream for pod %s/%s: %w", namespace, podName, err)
	}
	return executor, nil
}
