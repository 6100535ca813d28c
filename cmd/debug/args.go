package debug

import (
	"fmt"
	"strconv"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/spf13/cobra"
)

// parseAddr parses a 32-bit address, hex with a 0x prefix or decimal.
func parseAddr(s string) (memory.Address, error) {
	addr, err := memory.ParseAddress(s)
	if err != nil || addr > 0xffffffff {
		return 0, fmt.Errorf("invalid address format: %s", s)
	}
	return addr, nil
}

// parseCount parses an optional positive count argument.
func parseCount(args []string, i, def int) (int, error) {
	if len(args) <= i {
		return def, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid count: %s", args[i])
	}
	return n, nil
}

// positiveFlag reads an int flag that must be greater than zero.
func positiveFlag(cmd *cobra.Command, name string) (int, error) {
	n, err := cmd.Flags().GetInt(name)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid --%s: %d", name, n)
	}
	return n, nil
}

// location resolves a site name of the current build or an address.
func (s *DebugSession) location(arg string) (memory.Address, error) {
	if site, ok := s.sess.Build.Site(arg); ok {
		return site.Address(s.sess.Target.ModuleBase), nil
	}
	return parseAddr(arg)
}
