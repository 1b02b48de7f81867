// Package push routes unsolicited worker notifications to display targets.
//
// A Registry maps (channel, scope) to a set of Destinations. Dispatch with a
// scope reaches only the destinations registered under exactly that pair;
// dispatch without one reaches the union across all scopes of the channel,
// each destination at most once. Dead or failing destinations are skipped
// and stay registered until their owner unregisters them.
package push
