// Command vm loads eBPF bytecode from an ELF object or a raw binary file
// and runs it through the interpreter or the JIT.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/yalue/elf_reader"
	"gopkg.in/yaml.v3"

	"github.com/bpfvm/bpfvm/pkg/vm"
)

var (
	flagSection string
	flagRaw     bool
	flagJIT     bool
	flagFlavor  string
	flagMem     string
	flagMbuff   string
	flagCase    string
	flagVerbose int
)

// runCase is the YAML fixture format: a program with its memory and,
// optionally, the result it is expected to produce.
type runCase struct {
	Program  string  `yaml:"program"` // hex-encoded bytecode
	Mem      string  `yaml:"mem"`     // hex-encoded packet memory
	Mbuff    string  `yaml:"mbuff"`   // hex-encoded metadata buffer
	Flavor   string  `yaml:"flavor"`
	Expected *uint64 `yaml:"expected"`
}

func main() {
	root := &cobra.Command{
		Use:           "vm",
		Short:         "user-space eBPF virtual machine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "increase log verbosity (-v debug, -vv trace)")
	root.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	run := &cobra.Command{
		Use:   "run <file>",
		Short: "execute a program and print its result",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCmd,
	}
	run.Flags().StringVarP(&flagSection, "section", "s", "", "ELF section holding the bytecode")
	run.Flags().BoolVar(&flagRaw, "raw", false, "treat the file as raw bytecode, not ELF")
	run.Flags().BoolVar(&flagJIT, "jit", false, "compile and run natively")
	run.Flags().StringVar(&flagFlavor, "flavor", "nodata", "argument flavor: nodata, raw, mbuff")
	run.Flags().StringVar(&flagMem, "mem", "", "hex-encoded packet memory")
	run.Flags().StringVar(&flagMbuff, "mbuff", "", "hex-encoded metadata buffer")
	run.Flags().StringVar(&flagCase, "case", "", "YAML run fixture (replaces the file argument)")

	disasm := &cobra.Command{
		Use:   "disasm <file>",
		Short: "print the program's disassembly",
		Args:  cobra.ExactArgs(1),
		RunE:  disasmCmd,
	}
	disasm.Flags().StringVarP(&flagSection, "section", "s", "", "ELF section holding the bytecode")
	disasm.Flags().BoolVar(&flagRaw, "raw", false, "treat the file as raw bytecode, not ELF")

	root.AddCommand(run, disasm)

	if err := root.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func setupLogger() *logrus.Logger {
	logger := logrus.StandardLogger()
	switch {
	case flagVerbose >= 2:
		logger.SetLevel(logrus.TraceLevel)
	case flagVerbose == 1:
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func runCmd(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	var (
		prog, mem, mbuff []byte
		flavor           = flagFlavor
		expected         *uint64
		err              error
	)
	switch {
	case flagCase != "":
		prog, mem, mbuff, flavor, expected, err = loadCase(flagCase)
	case len(args) == 1:
		prog, err = loadProgram(args[0])
	default:
		return errors.New("need a program file or --case")
	}
	if err != nil {
		return err
	}
	if flagMem != "" {
		if mem, err = hex.DecodeString(flagMem); err != nil {
			return errors.Wrap(err, "decode --mem")
		}
	}
	if flagMbuff != "" {
		if mbuff, err = hex.DecodeString(flagMbuff); err != nil {
			return errors.Wrap(err, "decode --mbuff")
		}
	}

	machine, err := newVM(prog, flavor)
	if err != nil {
		return err
	}
	defer machine.Close()
	machine.SetLogger(logger)
	machine.RegisterHelper(vm.HelperKeyTracePrintk, vm.TracePrintk)

	var ret uint64
	if flagJIT {
		if err := machine.Compile(); err != nil {
			return errors.Wrap(err, "compile")
		}
		ret, err = machine.ExecJIT(mem, mbuff)
	} else {
		ret, err = machine.Exec(mem, mbuff)
	}
	if err != nil {
		return errors.Wrap(err, "execute")
	}

	fmt.Printf("%#x\n", ret)
	if expected != nil && ret != *expected {
		return errors.Errorf("expected %#x, got %#x", *expected, ret)
	}
	return nil
}

func disasmCmd(cmd *cobra.Command, args []string) error {
	setupLogger()
	prog, err := loadProgram(args[0])
	if err != nil {
		return err
	}
	lines, err := vm.DisassembleProgram(prog)
	if err != nil {
		return err
	}
	for pc, line := range lines {
		fmt.Printf("%4d: %s\n", pc, line)
	}
	return nil
}

func newVM(prog []byte, flavor string) (*vm.VM, error) {
	switch strings.ToLower(flavor) {
	case "", "nodata":
		return vm.New(prog, vm.FlavorNoData)
	case "raw":
		return vm.New(prog, vm.FlavorRaw)
	case "mbuff":
		return vm.New(prog, vm.FlavorMbuff)
	default:
		return nil, errors.Errorf("unknown flavor %q", flavor)
	}
}

// loadProgram reads bytecode from a raw file or from a named section of an
// ELF object. Which ELF section holds BPF code is not fixed: it depends on
// the kernel hook the program was written for, so the caller names it.
func loadProgram(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read program")
	}
	if flagRaw {
		return raw, nil
	}
	if flagSection == "" {
		return nil, errors.New("need --section for ELF input (or --raw)")
	}

	elf, err := elf_reader.ParseELFFile(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse ELF")
	}
	for i := uint16(1); i < elf.GetSectionCount(); i++ {
		name, err := elf.GetSectionName(i)
		if err != nil {
			return nil, errors.Wrapf(err, "section %d name", i)
		}
		if name != flagSection {
			continue
		}
		content, err := elf.GetSectionContent(i)
		if err != nil {
			return nil, errors.Wrapf(err, "section %q content", name)
		}
		return content, nil
	}
	return nil, errors.Errorf("cannot find section %q", flagSection)
}

func loadCase(path string) (prog, mem, mbuff []byte, flavor string, expected *uint64, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, "", nil, errors.Wrap(err, "read case")
	}
	var rc runCase
	if err := yaml.Unmarshal(raw, &rc); err != nil {
		return nil, nil, nil, "", nil, errors.Wrap(err, "parse case")
	}
	if prog, err = hex.DecodeString(strings.Join(strings.Fields(rc.Program), "")); err != nil {
		return nil, nil, nil, "", nil, errors.Wrap(err, "decode program")
	}
	if rc.Mem != "" {
		if mem, err = hex.DecodeString(rc.Mem); err != nil {
			return nil, nil, nil, "", nil, errors.Wrap(err, "decode mem")
		}
	}
	if rc.Mbuff != "" {
		if mbuff, err = hex.DecodeString(rc.Mbuff); err != nil {
			return nil, nil, nil, "", nil, errors.Wrap(err, "decode mbuff")
		}
	}
	return prog, mem, mbuff, rc.Flavor, rc.Expected, nil
}
