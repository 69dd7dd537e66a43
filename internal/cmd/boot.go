package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"spartan/internal/config"
	"spartan/kernel"
	"spartan/kernel/boot"
	"spartan/kernel/mem/frame"
)

func addBootCommand(rootCmd *cobra.Command) {
	bootCmd := &cobra.Command{
		Use:   "boot",
		Short: "Boot the simulated kernel and run until interrupted",
		Long:  "Seeds the frame allocator from config.toml's zones, starts the scheduler and reaper, and blocks until Ctrl-C.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			zones, err := bootZones(cfg.Zones)
			if err != nil {
				return err
			}

			sys := boot.New(cfg.NumCPU, zones)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// kernel.Panic halts the whole process by default; a booted
			// system instead needs its per-CPU ticks stopped so the
			// goroutines Start launched can actually return.
			kernel.SetHaltFn(func() { sys.Arch.StopTicks() })

			fmt.Fprintf(cmd.OutOrStdout(), "booting %d CPUs, %d zone(s)\n", sys.NumCPU(), len(zones))
			return sys.Start(ctx)
		},
	}
	rootCmd.AddCommand(bootCmd)
}

// bootZones translates config.Zone entries (TOML-friendly class names) into
// boot.ZoneSpec entries (the frame.Class enum boot.New expects).
func bootZones(zones []config.Zone) ([]boot.ZoneSpec, error) {
	specs := make([]boot.ZoneSpec, 0, len(zones))
	for _, z := range zones {
		var class frame.Class
		switch z.Class {
		case "lowmem":
			class = frame.ClassLowMem
		case "highmem":
			class = frame.ClassHighMem
		default:
			return nil, fmt.Errorf("unknown zone class %q", z.Class)
		}
		specs = append(specs, boot.ZoneSpec{
			Class:     class,
			Available: z.Available,
			StartPFN:  frame.Frame(z.StartPFN),
			Frames:    z.Frames,
		})
	}
	return specs, nil
}
