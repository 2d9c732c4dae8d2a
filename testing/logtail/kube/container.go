// Copyright 2016 Wercker Holding BV
//
// Licensed under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in
// compliance with the License. You may obtain a copy of
// the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in
// writing, software distributed under the License is
// distributed on an "AS IS" BASIS, WITHOUT WARRANTIES
// OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing
// permissions and limitations under the License.

package kube

import (
	"context"
	"fmt"
	"io"
	"sync"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	v1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/utils/ptr"

	"github.com/byte4ever/logexpect/testing/logtail"
)

// Container is a Kubernetes container inside a pod,
// observed as a logtail.Source.
type Container struct {
	Namespace     string
	PodName       string
	ContainerName string

	pods  v1.PodInterface
	mu    sync.Mutex
	state logtail.State
}

// NewContainer returns a source for a container inside
// a pod. Its status is Unknown until the first Reload.
func NewContainer(
	i v1.PodInterface,
	namespace, podName, containerName string,
) *Container {
	return &Container{
		Namespace:     namespace,
		PodName:       podName,
		ContainerName: containerName,
		pods:          i,
		state:         logtail.Unknown,
	}
}

// LogOptions builds the followed log request for since.
func (c *Container) LogOptions(
	since logtail.Since,
) *corev1.PodLogOptions {
	opts := &corev1.PodLogOptions{
		Follow:    true,
		Container: c.ContainerName,
	}

	switch {
	case !since.Time.IsZero():
		t := metav1.NewTime(since.Time)
		opts.SinceTime = &t
	case since.Lines > 0:
		opts.TailLines = ptr.To(since.Lines)
	}

	return opts
}

// Logs implements logtail.Source.
func (c *Container) Logs(
	ctx context.Context,
	since logtail.Since,
) (io.ReadCloser, error) {
	const errCtx = "opening log stream"

	stream, err := c.pods.
		GetLogs(c.PodName, c.LogOptions(since)).
		Stream(ctx)
	if err != nil {
		return nil, fmt.Errorf(
			"%s for %s/%s/%s: %w",
			errCtx, c.Namespace, c.PodName,
			c.ContainerName, err,
		)
	}

	return stream, nil
}

// Status implements logtail.Source.
func (c *Container) Status() logtail.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Reload implements logtail.Source. A pod that no longer
// exists is reported as Unknown.
func (c *Container) Reload(ctx context.Context) error {
	const errCtx = "reloading pod status"

	pod, err := c.pods.Get(ctx, c.PodName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		c.setState(logtail.Unknown)

		return nil
	}

	if err != nil {
		return fmt.Errorf(
			"%s for %s/%s: %w",
			errCtx, c.Namespace, c.PodName, err,
		)
	}

	c.setState(StateOf(pod, c.ContainerName))

	return nil
}

func (c *Container) setState(s logtail.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = s
}

// String returns namespace/pod/container.
func (c *Container) String() string {
	return fmt.Sprintf(
		"%s/%s/%s",
		c.Namespace, c.PodName, c.ContainerName,
	)
}
