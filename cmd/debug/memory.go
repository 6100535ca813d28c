package debug

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hitzhangjie/bs3mem/pkg/memory"
	"github.com/hitzhangjie/bs3mem/pkg/object"
	"github.com/spf13/cobra"
)

const dwordsPerLine = 4

func (s *DebugSession) examineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "x <addr> [n]",
		Short: "查看内存，按双字显示",
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupMemory,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return errors.New("usage: x <addr> [n]")
			}
			addr, err := s.location(args[0])
			if err != nil {
				return err
			}
			n, err := parseCount(args, 1, dwordsPerLine)
			if err != nil {
				return err
			}

			vals, err := memory.ReadUint32s(s.sess.Mem, addr, n)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for i := 0; i < len(vals); i += dwordsPerLine {
				end := i + dwordsPerLine
				if end > len(vals) {
					end = len(vals)
				}
				fmt.Fprintf(w, "%v: %s\n", addr.Add(int64(i*4)), hexWords(vals[i:end]))
			}
			return nil
		},
	}
}

func (s *DebugSession) chainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain <addr> [depth]",
		Short: "沿第一个双字的指针链查看内存",
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupMemory,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return errors.New("usage: chain <addr> [depth]")
			}
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			depth, err := parseCount(args, 1, 4)
			if err != nil {
				return err
			}
			width, err := positiveFlag(cmd, "width")
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, line := range object.Dump(s.sess.Mem, addr, depth, width) {
				if line.Err != nil {
					fmt.Fprintf(w, "%v: %v\n", line.Addr, line.Err)
					continue
				}
				fmt.Fprintf(w, "%v: %s\n", line.Addr, hexWords(line.Values))
			}
			return nil
		},
	}
	cmd.Flags().IntP("width", "w", 8, "每个对象显示的双字数量")
	return cmd
}

func (s *DebugSession) probeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <addr>",
		Short: "从指定地址出发查找组合物品",
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupMemory,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("usage: probe <addr>")
			}
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			depth, err := positiveFlag(cmd, "depth")
			if err != nil {
				return err
			}
			width, err := positiveFlag(cmd, "width")
			if err != nil {
				return err
			}

			path, ok := s.sess.Model.Probe(addr, depth, width)
			if !ok {
				return fmt.Errorf("no container item within %d links of %v", depth, addr)
			}
			w := cmd.OutOrStdout()
			found := addr
			for _, hop := range path {
				fmt.Fprintf(w, "%v[%d] -> %v\n", hop.From, hop.Slot, hop.To)
				found = hop.To
			}
			fmt.Fprintf(w, "found %v\n", found)
			return nil
		},
	}
	cmd.Flags().IntP("depth", "d", 3, "最多跟随的指针层数")
	cmd.Flags().IntP("width", "w", 16, "每个对象检查的双字数量")
	return cmd
}

func (s *DebugSession) setMemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setmem <addr> <value>",
		Short: "设置指定内存位置的双字",
		Annotations: map[string]string{
			cmdGroupAnnotation: cmdGroupMemory,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// 检查参数数量
			if len(args) != 2 {
				return errors.New("usage: setmem <addr> <value>")
			}

			// 解析地址参数
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}

			// 解析值参数
			value, err := strconv.ParseInt(args[1], 0, 32)
			if err != nil {
				return fmt.Errorf("invalid value format: %s", args[1])
			}

			// 读取当前内存值用于显示
			old, err := memory.ReadInt32(s.sess.Mem, addr)
			if err != nil {
				return fmt.Errorf("failed to read memory at address %v: %w", addr, err)
			}

			// 写入新值
			if err := memory.WriteInt32(s.sess.Mem, addr, int32(value)); err != nil {
				return fmt.Errorf("failed to write memory at address %v: %w", addr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%v: %d -> %d\n", addr, old, value)
			return nil
		},
	}
}

func hexWords(vals []uint32) string {
	words := make([]string, len(vals))
	for i, v := range vals {
		words[i] = fmt.Sprintf("%08x", v)
	}
	return strings.Join(words, " ")
}
