// Package vkdispatch is a client for VK's HTTP API that shards outbound
// traffic across a fixed set of credentials and opportunistically folds
// concurrent calls into execute batches to cut round trips.
//
// Callers build one or more Credentials, hand them to New, and then call
// Submit for each method they want to run. Submit returns a Call whose
// Result method blocks until the dispatcher has a response or the context
// is cancelled.
package vkdispatch
