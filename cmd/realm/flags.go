package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// StartFlags Flag structs to decouple cobra from logic for testing.
type StartFlags struct {
	ConfigPath string
	Watch      bool
	ProxyOnly  bool
}

type InitFlags struct {
	ConfigPath string
	With       []string
	ProxyPort  int
	Force      bool
}

// APIFlags select the admin API used by the remote commands.
type APIFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

type HistoryFlags struct {
	APIFlags
	Name  string
	Limit int
}
