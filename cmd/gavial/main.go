package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zboralski/gavial/internal/arch"
	"github.com/zboralski/gavial/internal/config"
	"github.com/zboralski/gavial/internal/emulator"
	glog "github.com/zboralski/gavial/internal/log"
	"github.com/zboralski/gavial/internal/probe"
	"github.com/zboralski/gavial/internal/syscalls"
)

var (
	cfgPath     string
	scriptPath  string
	archProfile string
	covEnabled  bool
	covOutput   string
	verbose     bool
	rawBlob     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gavial",
		Short: "Syscall hooking and coverage for emulated ARM64 guests",
		Long: `Gavial instruments a guest program under Unicorn emulation at two points:
every translated code block and every system call.

A JavaScript hook script can observe and modify syscalls:

  register_pre_hook("openat", function(ctx) {
      print(read_string(ctx.args[1]));
      ctx.ret = -13;   // -EACCES
      return true;     // skip the real syscall
  });

Coverage is written in drcov format, loadable by Lighthouse in IDA Pro or
Binary Ninja.`,
	}

	runCmd := &cobra.Command{
		Use:   "run <binary>",
		Short: "Run a guest binary under instrumentation",
		Args:  cobra.ExactArgs(1),
		RunE:  runGuest,
	}
	runCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "YAML config file")
	runCmd.Flags().StringVarP(&scriptPath, "script", "s", "", "JavaScript hook script")
	runCmd.Flags().StringVar(&archProfile, "arch", "", "architecture profile")
	runCmd.Flags().BoolVar(&covEnabled, "coverage", false, "record drcov coverage")
	runCmd.Flags().StringVarP(&covOutput, "output", "o", "", "coverage output template (%d=timestamp, %s=binary)")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose debug output")
	runCmd.Flags().BoolVar(&rawBlob, "raw", false, "treat the binary as a flat ARM64 code blob")
	rootCmd.AddCommand(runCmd)

	syscallsCmd := &cobra.Command{
		Use:   "syscalls [profile]",
		Short: "Dump the syscall name table for an architecture profile",
		Args:  cobra.MaximumNArgs(1),
		RunE:  dumpSyscalls,
	}
	rootCmd.AddCommand(syscallsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGuest(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
	}
	if scriptPath != "" {
		cfg.Script = scriptPath
	}
	if archProfile != "" {
		cfg.Arch = archProfile
	}
	if covEnabled {
		cfg.Coverage.Enabled = true
	}
	if covOutput != "" {
		cfg.Coverage.Output = covOutput
	}
	if verbose {
		cfg.Verbose = true
	}
	if err := checkArch(cfg.Arch); err != nil {
		return err
	}

	glog.Init(cfg.Verbose)

	emu, err := emulator.New(nil)
	if err != nil {
		return err
	}
	defer emu.Close()

	p, err := probe.New(probe.Config{
		Arch:           cfg.Arch,
		Script:         cfg.Script,
		Coverage:       cfg.Coverage.Enabled,
		CoverageOutput: cfg.Coverage.Output,
		Translator:     emu,
		Logger:         glog.L,
	})
	if err != nil {
		return err
	}
	emu.SetInstrumentation(p)

	binary := args[0]
	var entry, codeStart, codeEnd uint64
	if rawBlob {
		code, err := os.ReadFile(binary)
		if err != nil {
			return err
		}
		if err := emu.LoadCode(code); err != nil {
			return err
		}
		emu.SetBinary(binary)
		entry = emulator.CodeBase
		codeStart = emulator.CodeBase
		codeEnd = emulator.CodeBase + uint64(len(code))
	} else {
		info, err := emu.LoadELF(binary)
		if err != nil {
			return err
		}
		entry = info.Entry
		codeStart = info.CodeStart
		codeEnd = info.CodeEnd
	}
	p.SetBinaryInfo(binary, codeStart, codeEnd, entry)

	runErr := emu.Run(entry, 0)
	p.Shutdown()

	if runErr != nil {
		return fmt.Errorf("emulation: %w", runErr)
	}
	if exited, code := emu.Exited(); exited && code != 0 {
		return fmt.Errorf("guest exited with status %d", code)
	}
	return nil
}

// checkArch validates the configured architecture profile. Register
// projection covers many profiles, but the emulation harness only runs
// arm64 guests.
func checkArch(profile string) error {
	if !arch.Supported(profile) {
		return fmt.Errorf("unknown arch profile %q (supported: %s)",
			profile, strings.Join(arch.Profiles(), ", "))
	}
	if profile != "arm64" {
		return fmt.Errorf("arch profile %q: the emulation harness only runs arm64 guests", profile)
	}
	return nil
}

func dumpSyscalls(cmd *cobra.Command, args []string) error {
	profile := "arm64"
	if len(args) == 1 {
		profile = args[0]
	}
	table := syscalls.ForProfile(profile)
	if table.Len() == 0 {
		return fmt.Errorf("no syscall table for profile %q", profile)
	}
	table.Each(func(num int, name string) {
		fmt.Printf("%4d  %s\n", num, name)
	})
	return nil
}
