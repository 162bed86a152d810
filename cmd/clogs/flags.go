package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

// APIFlags select the collector a client command talks to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
	Token      string
}

type LogsFlags struct {
	APIFlags
	ContainerID string
	Level       string
	Limit       int
}

type HeartbeatFlags struct {
	APIFlags
	AgentID string
}
