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
	corev1 "k8s.io/api/core/v1"

	"github.com/byte4ever/logexpect/testing/logtail"
)

// FromContainerState maps a Kubernetes container state
// to a liveness view. A container without any state has
// not started yet.
func FromContainerState(
	containerState corev1.ContainerState,
) logtail.State {
	switch {
	case containerState.Running != nil:
		return logtail.Running
	case containerState.Terminated != nil:
		return logtail.Terminated
	default:
		return logtail.Waiting
	}
}

// StateOf returns the liveness view of the named
// container of pod. Init containers are included. An
// empty name selects the only container of a
// single-container pod. When no status is reported yet
// the pod phase decides.
func StateOf(pod *corev1.Pod, container string) logtail.State {
	var statuses []corev1.ContainerStatus
	statuses = append(
		statuses,
		pod.Status.InitContainerStatuses...,
	)
	statuses = append(
		statuses,
		pod.Status.ContainerStatuses...,
	)

	if container == "" &&
		len(pod.Status.ContainerStatuses) == 1 {
		container = pod.Status.ContainerStatuses[0].Name
	}

	for _, status := range statuses {
		if status.Name == container {
			return FromContainerState(status.State)
		}
	}

	switch pod.Status.Phase {
	case corev1.PodSucceeded, corev1.PodFailed:
		return logtail.Terminated
	case corev1.PodPending:
		return logtail.Waiting
	default:
		return logtail.Unknown
	}
}
