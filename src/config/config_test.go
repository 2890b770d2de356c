package config

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetDataDir(t *testing.T) {
	c := NewDefaultConfig()
	c.SetDataDir("/tmp/rtxd-test")

	if c.DataDir != "/tmp/rtxd-test" {
		t.Fatalf("DataDir: %s", c.DataDir)
	}
	if c.DatabaseDir != filepath.Join("/tmp/rtxd-test", DefaultBadgerFile) {
		t.Fatalf("DatabaseDir should follow DataDir, got %s", c.DatabaseDir)
	}

	// An explicit database dir is left alone.
	c2 := NewDefaultConfig()
	c2.DatabaseDir = "/elsewhere/db"
	c2.SetDataDir("/tmp/rtxd-test")
	if c2.DatabaseDir != "/elsewhere/db" {
		t.Fatalf("explicit DatabaseDir overridden: %s", c2.DatabaseDir)
	}
}

func TestLogLevel(t *testing.T) {
	if LogLevel("warn") != logrus.WarnLevel {
		t.Fatal("warn")
	}
	if LogLevel("nonsense") != logrus.DebugLevel {
		t.Fatal("default should be debug")
	}
}

func TestKeyfile(t *testing.T) {
	c := NewTestConfig(t)
	c.SetDataDir("/tmp/rtxd-test")

	if c.Keyfile() != filepath.Join("/tmp/rtxd-test", DefaultKeyfile) {
		t.Fatalf("Keyfile: %s", c.Keyfile())
	}
	if c.PeersFile() != filepath.Join("/tmp/rtxd-test", DefaultPeersFile) {
		t.Fatalf("PeersFile: %s", c.PeersFile())
	}
}
