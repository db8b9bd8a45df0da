// Hestia persists audit events, tasks, devices, device metrics and
// capability statements in a wide-column store and serves them over HTTP
// and gRPC.
//
// Usage:
//
//	# Start the HTTP and gRPC servers
//	hestia serve --config /etc/hestia/config.yaml
//
//	# Store a record and read it back
//	hestia put Task task.json
//	hestia read Task 42
//
//	# Search by parameters
//	hestia search AuditEvent site=ward-1 date=2021-03-04T10:15
//
//	# Dump every Device to the export target and load it back
//	hestia export Device
//	hestia import Device
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
