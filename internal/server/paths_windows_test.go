//go:build windows

package server

const outputRoot = `C:\xchainctl`
