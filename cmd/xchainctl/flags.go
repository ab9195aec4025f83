package main

import "time"

const defaultAPITimeout = 30 * time.Second

// GlobalFlags are the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	Home       string
	LogLevel   string
	LogFormat  string
	// Remote API connection; empty APIUrl means the local registry.
	APIUrl      string
	APITimeout  time.Duration
	APIInsecure bool
}

// Flag structs decouple cobra from the command logic for testing.

type ListFlags struct {
	Kind string
	JSON bool
}

type PrintFlags struct {
	Name     string
	Tail     int
	DebugLog bool
}

type StartFlags struct {
	Name     string
	Kind     string
	Exe      string
	Conf     string
	WSIP     string
	WSPort   int
	HTTPIP   string
	HTTPPort int
	IP       string
	RPCPort  int
}

type StopFlags struct {
	Name   string
	All    bool
	Signal string
}

type RestartFlags struct {
	Name string
	All  bool
}

type RequestFlags struct {
	Name   string
	Method string
	Params string
	WS     bool
}

type ServeFlags struct {
	Listen     string
	BasePath   string
	SelfSigned bool
}
