package main

import (
	"flag"
	"testing"

	"github.com/tinkerator/blflash/internal/chip/bl602"
	"github.com/tinkerator/blflash/internal/flasher"
)

var bl602Chip = bl602.Bl602{}

func TestAddSharedFlagsDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	shared := addSharedFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if *shared.baudRate != flasher.DefaultFlashSpeed {
		t.Fatalf("baudRate default = %d, want %d", *shared.baudRate, flasher.DefaultFlashSpeed)
	}
	if *shared.initialBaud != flasher.InitialBaud {
		t.Fatalf("initialBaud default = %d, want %d", *shared.initialBaud, flasher.InitialBaud)
	}
	if *shared.debug {
		t.Fatal("debug default = true, want false")
	}
	if !*shared.progress {
		t.Fatal("progress default = false, want true")
	}
}

func TestAddSharedFlagsOverride(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	shared := addSharedFlags(fs)
	if err := fs.Parse([]string{"--port", "/dev/ttyUSB1", "--baud-rate", "2000000", "--debug"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if *shared.port != "/dev/ttyUSB1" {
		t.Fatalf("port = %q, want /dev/ttyUSB1", *shared.port)
	}
	if *shared.baudRate != 2000000 {
		t.Fatalf("baudRate = %d, want 2000000", *shared.baudRate)
	}
	if !*shared.debug {
		t.Fatal("debug = false, want true")
	}
}

func TestAddBoot2FlagsDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	boot2 := addBoot2Flags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if *boot2.partitionCfg != "" || *boot2.bootHeaderCfg != "" || *boot2.dtb != "" {
		t.Fatal("boot2 path flags should default to empty (use the chip's embedded assets)")
	}
	if *boot2.withoutBoot2 {
		t.Fatal("withoutBoot2 default = true, want false")
	}

	assets, err := boot2.assets(bl602Chip)
	if err != nil {
		t.Fatalf("assets: %v", err)
	}
	if len(assets.PartitionCfg) == 0 || len(assets.BootHeaderCfg) == 0 {
		t.Fatal("assets with no path overrides should fall back to the chip's embedded defaults")
	}
}

func TestAddBoot2FlagsWithoutBoot2(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	boot2 := addBoot2Flags(fs)
	if err := fs.Parse([]string{"--without-boot2"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	assets, err := boot2.assets(bl602Chip)
	if err != nil {
		t.Fatalf("assets: %v", err)
	}
	if !assets.WithoutBoot2 {
		t.Fatal("assets.WithoutBoot2 = false, want true")
	}
}

func TestConnectRequiresPort(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	shared := addSharedFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := shared.connect(); err == nil {
		t.Fatal("connect: want error when --port is empty, got nil")
	}
}
