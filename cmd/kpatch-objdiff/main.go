// Command kpatch-objdiff extracts a minimal relocatable object containing
// only the functions that changed between two builds of the same
// translation unit, for use in constructing a binary kernel hot-patch.
package main

import (
	"errors"
	"os"

	"github.com/kpatch-tools/objdiff/internal/diagnostic"
	"github.com/kpatch-tools/objdiff/obj"
	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags; "dev" otherwise.
var version = "dev"

var (
	debugCount int
	inventory  bool
	log        = diagnostic.New(diagnostic.LevelWarn)
)

func main() {
	root := &cobra.Command{
		Use:   "kpatch-objdiff original.o patched.o output.o",
		Short: "Extract a minimal relocatable object of only the functions that changed",
		Long: `kpatch-objdiff reads two relocatable object files compiled from two
versions of the same translation unit and writes a third object containing
only the functions that changed, together with the minimal transitive
closure of data, relocations, string-table entries and symbol-table
entries required for that reduced object to link against the original
image.`,
		Version:       version,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().CountVarP(&debugCount, "debug", "d", "raise log verbosity (repeat for more detail)")
	root.Flags().BoolVarP(&inventory, "inventory", "i", false, "also write <output>.inventory, a human-readable listing")

	if err := root.Execute(); err != nil {
		log.Error(err)
		var uerr *obj.UnreconcilableError
		if errors.As(err, &uerr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	basePath, patchedPath, outPath := args[0], args[1], args[2]

	level := diagnostic.LevelWarn
	switch {
	case debugCount >= 2:
		level = diagnostic.LevelDebug
	case debugCount == 1:
		level = diagnostic.LevelInfo
	}
	log = diagnostic.New(level)

	log.Info("loading %s", basePath)
	base, err := obj.Load(basePath)
	if err != nil {
		return err
	}
	log.Info("loading %s", patchedPath)
	patched, err := obj.Load(patchedPath)
	if err != nil {
		return err
	}

	if err := obj.ValidateHeaders(&base.Header, &patched.Header); err != nil {
		return err
	}

	log.Info("correlating base and patched")
	if err := obj.Correlate(base, patched); err != nil {
		return err
	}
	log.Info("comparing base and patched")
	if err := obj.Compare(base, patched); err != nil {
		return err
	}
	obj.SubstituteSectionSymbols(patched)

	changed := obj.MarkClosure(patched)
	if len(changed) == 0 {
		log.Status("no changes found")
	} else {
		for _, name := range changed {
			log.Status("function %s has changed", name)
		}
	}

	log.Info("synthesizing output object")
	out, err := obj.Synthesize(patched)
	if err != nil {
		return err
	}

	log.Info("writing %s", outPath)
	if err := obj.Write(out, outPath); err != nil {
		return err
	}

	if inventory {
		if err := writeInventoryFile(out, outPath+".inventory"); err != nil {
			return err
		}
	}

	return nil
}

func writeInventoryFile(out *obj.Graph, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return obj.NewOperationalError("inventory", err)
	}
	defer f.Close()
	if err := obj.WriteInventory(out, f); err != nil {
		return obj.NewOperationalError("inventory", err)
	}
	return nil
}
