// Command workerhub controls a workerhub daemon over its IPC socket: worker
// lifecycle, correlated calls, push subscriptions and configuration helpers.
package main
