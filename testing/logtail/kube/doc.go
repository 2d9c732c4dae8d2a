// Package kube follows the logs of a Kubernetes pod container. Container
// implements logtail.Source on top of the client-go pod interface: the log
// stream is a followed GetLogs request and the liveness view is the
// container's status in the pod. Adapted from the stern project.
package kube
