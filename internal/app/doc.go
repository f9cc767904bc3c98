// Package app turns a loaded config into a running engine with its turn
// ledger and Prometheus metrics attached as observers.
package app
