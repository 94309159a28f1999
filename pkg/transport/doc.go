// Package transport provides interfaces for delivering relay messages to host nodes.
//
// Delivery is best effort:
//   - every message is offered to every node reachable at the time it is dispatched
//   - a failure on one node is logged and dropped, it never affects other nodes
//   - nothing is retried and nothing is reported back to the publisher
//
// Publisher.Send never blocks the caller. Messages are dispatched in the order they
// were sent, so each node observes the publisher's order.
//
// A Link is one way of reaching nodes (HTTP push to configured hosts, server-sent
// event streams held open by hosts). The adapter fans each message out across all
// registered links.
package transport
