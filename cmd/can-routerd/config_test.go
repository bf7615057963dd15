package main

import (
	"testing"
	"time"
)

func validConfig() *appConfig {
	return &appConfig{
		backend:       "serial",
		canIf:         "can0",
		serialDev:     "/dev/null",
		baud:          115200,
		serialReadTO:  10 * time.Millisecond,
		listenAddr:    ":20100",
		routeCapacity: 8,
		logFormat:     "text",
		logLevel:      "info",
		hubBuffer:     8,
		hubPolicy:     "drop",
		maxClients:    0,
		clientReadTO:  time.Second,
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBackend", func(c *appConfig) { c.backend = "x" }},
		{"badPolicy", func(c *appConfig) { c.hubPolicy = "x" }},
		{"badHubBuf", func(c *appConfig) { c.hubBuffer = 0 }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badClientReadTO", func(c *appConfig) { c.clientReadTO = 0 }},
		{"badMaxClients", func(c *appConfig) { c.maxClients = -1 }},
		{"badRouteCapacity", func(c *appConfig) { c.routeCapacity = 0 }},
		{"routesExceedCapacity", func(c *appConfig) {
			c.routeCapacity = 2
			c.monitorIDs = []uint32{0x100, 0x200}
			c.logIDs = []uint32{0x300}
		}},
	}
	for _, tc := range tests {
		base := validConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestParseIDList(t *testing.T) {
	got, err := parseIDList(" 0x100, 0x2A0 ,768 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []uint32{0x100, 0x2A0, 0x300}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = 0x%X, want 0x%X", i, got[i], want[i])
		}
	}
}

func TestParseIDList_Empty(t *testing.T) {
	got, err := parseIDList("")
	if err != nil || got != nil {
		t.Fatalf("expected empty list, got %v err %v", got, err)
	}
}

func TestParseIDList_Errors(t *testing.T) {
	for _, s := range []string{"xyz", "0x20000000", "0x100,bogus"} {
		if _, err := parseIDList(s); err == nil {
			t.Fatalf("%q: expected error", s)
		}
	}
}
