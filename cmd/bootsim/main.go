// Command bootsim drives the lakeos-go boot core against a hosted
// simulated-hardware harness: a YAML-described memory-bank list, an
// embedded init ELF image, and in-process mocks for MMIO and the
// scheduler, in place of real AArch64 hardware.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/michaelengel/lakeos-go/internal/atag"
	"github.com/michaelengel/lakeos-go/internal/bootcfg"
	"github.com/michaelengel/lakeos-go/internal/boot"
	"github.com/michaelengel/lakeos-go/internal/console"
	"github.com/michaelengel/lakeos-go/internal/hostmem"
	"github.com/michaelengel/lakeos-go/internal/mmio"
	"github.com/michaelengel/lakeos-go/internal/sched"
	"github.com/michaelengel/lakeos-go/internal/vspace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bootsim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a bootcfg YAML file")
	cnodeSize := flag.Int("cnode-size", 1024, "initial CNode slot count (power of two)")
	simHW := flag.Bool("sim-hw", false, "back the timer register window with an anonymous mmap instead of an in-process fake")
	rawConsole := flag.Bool("raw-console", false, "put stdout into raw mode for the boot console, like an attached serial terminal")
	flag.Parse()

	if *configPath == "" {
		return errors.New("bootsim: -config is required")
	}

	cfg, err := bootcfg.Load(*configPath)
	if err != nil {
		return err
	}

	elfData, err := os.ReadFile(cfg.ImagePath)
	if err != nil {
		return fmt.Errorf("bootsim: read init image %s: %w", cfg.ImagePath, err)
	}

	banks := make(atag.Static, len(cfg.MemBanks))
	for i, b := range cfg.MemBanks {
		banks[i] = atag.MemTag{Start: b.Start, Size: b.Size}
	}

	var uart *console.UART
	if *rawConsole {
		var tty *console.RawTTY
		uart, tty, err = console.NewRaw(os.Stdout, cfg.Verbose)
		if err != nil {
			return fmt.Errorf("bootsim: enable raw console: %w", err)
		}
		defer tty.Restore()
	} else {
		uart = console.New(os.Stdout, cfg.Verbose)
	}

	var bar *progressbar.ProgressBar
	if cfg.Verbose {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(uart.Writer()),
			progressbar.OptionSetDescription("carving untyped regions"),
		)
		defer bar.Close()
	}

	pool := hostmem.NewPool()
	backend := vspace.NewFake()

	var timerReg mmio.Block
	if *simHW {
		real, err := mmio.NewReal(0x1000)
		if err != nil {
			return fmt.Errorf("bootsim: map simulated timer window: %w", err)
		}
		defer real.Close()
		timerReg = real
	} else {
		timerReg = mmio.NewFake(0x1000)
	}

	scheduler := sched.NewInMemory()

	result, err := boot.Run(boot.Params{
		Source:         banks,
		ELFImage:       elfData,
		CNodeSize:      *cnodeSize,
		KernelImageEnd: cfg.KernelImageEnd,
		TickMicros:     cfg.TickMicros,
	}, pool, pool, backend, timerReg, scheduler, uart)
	if err != nil {
		return err
	}

	if bar != nil {
		for range result.Regions {
			_ = bar.Add(1)
		}
	}
	slog.Info("bootsim: boot sequence complete",
		"untyped_regions", len(result.Regions),
		"kernel_root_slot", result.KernelPGD,
		"entry", fmt.Sprintf("%#x", result.TCB.TF.ELR),
	)
	return nil
}
