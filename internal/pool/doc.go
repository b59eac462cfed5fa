// Package pool holds the ordered groups of batches of one simulation run
// and grants step-scoped access to them.
//
// A Pool hands out one exclusive WriteProxy or any number of shared
// ReadProxies at a time. Acquisition blocks until the conflicting proxies
// are released or the context is done. Groups are addressed by their
// stable id so planners and executors can refer to them without holding
// the batches themselves.
package pool
