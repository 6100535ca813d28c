// Package debug is the interactive shell over a running session.
package debug

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	rtdebug "runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"
	"github.com/hitzhangjie/bs3mem/pkg/logflags"
	"github.com/hitzhangjie/bs3mem/pkg/session"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	cmdGroupAnnotation = "cmd_group_annotation"

	cmdGroupState       = "1-state"
	cmdGroupBreakpoints = "2-breaks"
	cmdGroupMemory      = "3-memory"
	cmdGroupOthers      = "4-other"
	cmdGroupCobra       = "other"

	cmdGroupDelimiter = "-"

	prefix    = "bs3mem> "
	descShort = "bs3mem interactive commands"
)

// DebugSession 交互会话
type DebugSession struct {
	sess *session.Session
	out  io.Writer

	done     chan struct{}
	stopOnce sync.Once

	mu sync.Mutex // guards liner

	prefix string
	root   *cobra.Command
	cmds   *trie.Trie
	liner  *liner.State
	last   string

	defers []func()
}

// NewDebugSession 创建一个交互管理器，命令输出写到out
func NewDebugSession(sess *session.Session, out io.Writer) *DebugSession {
	s := &DebugSession{
		sess:   sess,
		out:    out,
		done:   make(chan struct{}),
		prefix: prefix,
		cmds:   trie.New(),
	}

	s.root = &cobra.Command{
		Use:           "help [command]",
		Short:         descShort,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	s.root.SetOut(out)
	s.root.SetErr(out)
	s.root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		// 描述信息
		fmt.Fprintln(w, cmd.Short)
		fmt.Fprintln(w)

		// 使用信息
		fmt.Fprintln(w, cmd.Use)
		fmt.Fprintln(w, cmd.Flags().FlagUsages())

		// 命令分组
		if cmd == s.root {
			fmt.Fprintln(w, helpMessageByGroups(cmd))
		}
	})

	for _, c := range []*cobra.Command{
		s.itemsCmd(), s.customersCmd(), s.stateCmd(), s.updateCmd(), s.sortCmd(),
		s.resetCmd(), s.incCmd(), s.decCmd(), s.addCmd(), s.removeCmd(),
		s.breaksCmd(), s.clearCmd(), s.verifyCmd(),
		s.examineCmd(), s.chainCmd(), s.probeCmd(), s.setMemCmd(), s.disassCmd(), s.moduleCmd(),
		s.exitCmd(),
	} {
		s.root.AddCommand(c)
		s.cmds.Add(c.Name(), c)
		for _, alias := range c.Aliases {
			s.cmds.Add(alias, c)
		}
	}
	return s
}

// Start reads commands until exit or Stop.
func (s *DebugSession) Start() error {
	ln := liner.NewLiner()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(s.completer)
	ln.SetTabCompletionStyle(liner.TabPrints)
	s.mu.Lock()
	s.liner = ln
	s.mu.Unlock()

	defer func() {
		for idx := len(s.defers) - 1; idx >= 0; idx-- {
			s.defers[idx]()
		}
	}()
	defer ln.Close()

	for {
		select {
		case <-s.done:
			return nil
		default:
		}

		txt, err := ln.Prompt(s.prefix)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		txt = strings.TrimSpace(txt)
		if len(txt) != 0 {
			s.last = txt
			ln.AppendHistory(txt)
		} else {
			txt = s.last
		}

		if err := s.Exec(txt); err != nil {
			fmt.Fprintf(s.out, "Command failed: %v\n", err)
		}
	}
}

// Exec runs one command line.
func (s *DebugSession) Exec(line string) (err error) {
	// a panicking command must not take the process down with the traps
	// still planted
	defer func() {
		if r := recover(); r != nil {
			logflags.DebuggerLogger().Errorf("command panic: %v\n%s", r, rtdebug.Stack())
			err = fmt.Errorf("command '%s' panicked: %v", line, r)
		}
	}()

	if strings.TrimSpace(line) == "" {
		return nil
	}
	v, err := argv.Argv(line,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return err
	}
	if len(v) != 1 {
		return fmt.Errorf("illegal command line '%s'", line)
	}

	// flags keep the value of the last run otherwise
	if c, _, err := s.root.Find(v[0]); err == nil && c != nil {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
	s.root.SetArgs(v[0])
	return s.root.Execute()
}

// AtExit registers fn to run when Start returns.
func (s *DebugSession) AtExit(fn func()) *DebugSession {
	s.defers = append(s.defers, fn)
	return s
}

// Stop ends the prompt loop after the current line.
func (s *DebugSession) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Close stops the loop and gives the terminal back right away.
func (s *DebugSession) Close() {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liner != nil {
		s.liner.Close()
	}
}

func (s *DebugSession) completer(line string) []string {
	if strings.Contains(line, " ") {
		return nil
	}
	cmds := s.cmds.PrefixSearch(line)
	sort.Strings(cmds)
	return cmds
}

// helpMessageByGroups 将各个命令按照分组归类，再展示帮助信息
func helpMessageByGroups(cmd *cobra.Command) string {

	// key:group, val:sorted commands in same group
	groups := map[string][]string{}
	for _, c := range cmd.Commands() {
		// 如果没有指定命令分组，放入other组
		groupName, ok := c.Annotations[cmdGroupAnnotation]
		if !ok {
			groupName = cmdGroupCobra
		}

		groupCmds := append(groups[groupName], fmt.Sprintf("  %-16s:%s", c.Name(), c.Short))
		sort.Strings(groupCmds)
		groups[groupName] = groupCmds
	}

	if len(groups[cmdGroupCobra]) != 0 {
		groups[cmdGroupOthers] = append(groups[cmdGroupOthers], groups[cmdGroupCobra]...)
	}
	delete(groups, cmdGroupCobra)

	// 按照分组名进行排序
	groupNames := []string{}
	for k := range groups {
		groupNames = append(groupNames, k)
	}
	sort.Strings(groupNames)

	// 按照group分组，并对组内命令进行排序
	buf := bytes.Buffer{}
	for _, groupName := range groupNames {
		group := strings.Split(groupName, cmdGroupDelimiter)[1]
		buf.WriteString(fmt.Sprintf("- [%s]\n", group))

		for _, cmd := range groups[groupName] {
			buf.WriteString(fmt.Sprintf("%s\n", cmd))
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
