// Package notifications pushes pipeline events to an ntfy topic.
//
// The service is a no-op when no topic is configured. Event families can be
// muted individually through the [notifications] config section, so lanes
// and the breaker registry publish unconditionally and let the service
// decide what reaches the operator.
package notifications
