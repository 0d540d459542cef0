// Program blflash drives a BL602 RISC-V microcontroller's factory BootROM
// over a serial link to upload firmware, verify flash contents, or dump
// flash to a file.
//
// An ELF <image> is flashed directly, one PT_LOAD segment per mapped
// flash offset. Any other <image> is treated as a flat firmware binary
// and wrapped in a boot header -- either the full boot2/partition/RO-params
// layout, or, with --without-boot2, a single segment at offset 0.
//
// Usage:
//
//	blflash flash <image> --port /dev/ttyUSB0 [--force] [--strict]
//	                       [--partition-cfg PATH] [--boot-header-cfg PATH]
//	                       [--dtb PATH] [--without-boot2]
//	blflash check <image> --port /dev/ttyUSB0 [same boot2 flags]
//	blflash dump <output.bin> --port /dev/ttyUSB0 [--start 0] [--end 0x100000]
package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"

	"github.com/tinkerator/blflash/internal/chip/bl602"
	"github.com/tinkerator/blflash/internal/connection"
	"github.com/tinkerator/blflash/internal/flasher"
	"github.com/tinkerator/blflash/internal/transport"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "flash":
		err = runFlash(os.Args[2:])
	case "check":
		err = runCheck(os.Args[2:])
	case "dump":
		err = runDump(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: blflash {flash|check|dump} [flags]")
}

// sharedFlags are the connection parameters every subcommand needs.
type sharedFlags struct {
	port        *string
	baudRate    *int
	initialBaud *int
	debug       *bool
	progress    *bool
}

func addSharedFlags(fs *flag.FlagSet) *sharedFlags {
	return &sharedFlags{
		port:        fs.String("port", "", "serial port device, e.g. /dev/ttyUSB0"),
		baudRate:    fs.Int("baud-rate", flasher.DefaultFlashSpeed, "baud rate used once the eflash_loader stub is running"),
		initialBaud: fs.Int("initial-baud-rate", flasher.InitialBaud, "baud rate used for the initial handshake"),
		debug:       fs.Bool("debug", false, "trace every frame written and read"),
		progress:    fs.Bool("progress", true, "print a dot per programmed chunk"),
	}
}

func (s *sharedFlags) connect() (*flasher.Flasher, error) {
	if *s.port == "" {
		return nil, fmt.Errorf("missing required --port")
	}
	t, err := transport.OpenSerial(*s.port, *s.initialBaud)
	if err != nil {
		return nil, err
	}
	conn := connection.New(t)
	if *s.debug {
		conn.Debug = connection.TraceHexDump(os.Stderr)
	}
	c := bl602.Bl602{}
	f, err := flasher.Connect(conn, c, *s.baudRate)
	if err != nil {
		return nil, err
	}
	if *s.progress {
		f.Progress = func(sent, total int) {
			if sent >= total {
				fmt.Fprintln(os.Stderr)
				return
			}
			fmt.Fprint(os.Stderr, ".")
		}
	}
	log.Printf("bootrom version: %#x", f.BootInfo().BootROMVersion)
	return f, nil
}

// boot2Flags are the -partition-cfg/-boot-header-cfg/-dtb/-without-boot2
// flags shared by flash and check; they only affect how a non-ELF <image>
// argument gets wrapped into flash segments.
type boot2Flags struct {
	partitionCfg  *string
	bootHeaderCfg *string
	dtb           *string
	withoutBoot2  *bool
}

func addBoot2Flags(fs *flag.FlagSet) *boot2Flags {
	return &boot2Flags{
		partitionCfg:  fs.String("partition-cfg", "", "path to partition_cfg.toml, default the chip's embedded table"),
		bootHeaderCfg: fs.String("boot-header-cfg", "", "path to efuse_bootheader_cfg.conf, default the chip's embedded config"),
		dtb:           fs.String("dtb", "", "path to ro_params.dtb, default the chip's embedded device tree"),
		withoutBoot2:  fs.Bool("without-boot2", false, "wrap a raw firmware image in a single boot header instead of the full boot2 layout"),
	}
}

// readOrDefault returns the bytes at path, or def if path is empty.
func readOrDefault(path string, def []byte) ([]byte, error) {
	if path == "" {
		return def, nil
	}
	return ioutil.ReadFile(path)
}

func (b *boot2Flags) assets(c bl602.Bl602) (flasher.BootAssets, error) {
	partitionCfg, err := readOrDefault(*b.partitionCfg, c.DefaultPartitionCfg())
	if err != nil {
		return flasher.BootAssets{}, err
	}
	bootHeaderCfg, err := readOrDefault(*b.bootHeaderCfg, c.DefaultBootHeaderCfg())
	if err != nil {
		return flasher.BootAssets{}, err
	}
	roParams, err := readOrDefault(*b.dtb, c.DefaultROParams())
	if err != nil {
		return flasher.BootAssets{}, err
	}
	return flasher.BootAssets{
		PartitionCfg:  partitionCfg,
		BootHeaderCfg: bootHeaderCfg,
		ROParams:      roParams,
		WithoutBoot2:  *b.withoutBoot2,
	}, nil
}

func runFlash(args []string) error {
	fs := flag.NewFlagSet("flash", flag.ExitOnError)
	shared := addSharedFlags(fs)
	boot2 := addBoot2Flags(fs)
	force := fs.Bool("force", false, "reprogram every segment regardless of its current flash contents")
	strict := fs.Bool("strict", false, "treat a post-program SHA-256 mismatch as a fatal error")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("flash requires exactly one image argument")
	}

	f, err := shared.connect()
	if err != nil {
		return err
	}
	f.Strict = *strict

	data, err := ioutil.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	c := bl602.Bl602{}
	assets, err := boot2.assets(c)
	if err != nil {
		return err
	}
	segs, err := flasher.ResolveSegments(c, data, assets)
	if err != nil {
		return err
	}
	if err := f.LoadSegments(*force, segs); err != nil {
		return err
	}
	return f.Reset()
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	shared := addSharedFlags(fs)
	boot2 := addBoot2Flags(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("check requires exactly one image argument")
	}

	f, err := shared.connect()
	if err != nil {
		return err
	}

	data, err := ioutil.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	c := bl602.Bl602{}
	assets, err := boot2.assets(c)
	if err != nil {
		return err
	}
	segs, err := flasher.ResolveSegments(c, data, assets)
	if err != nil {
		return err
	}
	return f.CheckSegments(segs)
}

func runDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	shared := addSharedFlags(fs)
	start := fs.Int("start", 0, "first flash offset to read")
	end := fs.Int("end", 1<<20, "one past the last flash offset to read")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("dump requires exactly one output-file argument")
	}

	f, err := shared.connect()
	if err != nil {
		return err
	}

	out, err := os.Create(fs.Arg(0))
	if err != nil {
		return err
	}
	defer out.Close()

	return f.DumpFlash(uint32(*start), uint32(*end), out)
}
