package main

const (
	PathHello    = "/hello"
	PathCert     = "/cert"
	PathSessions = "/sessions"
)
