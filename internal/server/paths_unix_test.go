//go:build !windows

package server

// outputRoot is an absolute directory that exists on every supported Unix host.
const outputRoot = "/tmp/xchainctl"
