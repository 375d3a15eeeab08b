package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/promptgraph/internal/cli"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/session"
	"github.com/spf13/cobra"
)

var gotoCmd = &cobra.Command{
	Use:   "goto <device> <state>",
	Short: "Move a device to a CLI mode",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, r, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer env.Close()
		direct, _ := cmd.Flags().GetBool("direct")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		return cli.WithDevice(cmd.Context(), env, args[0], func(ctx context.Context, s *session.Session) error {
			target, err := lookupState(s, args[1])
			if err != nil {
				return err
			}
			opts := []session.CallOption{session.Timeout(timeout)}
			if direct {
				opts = append(opts, session.HopWise(false))
			}
			if err := s.GoTo(ctx, target, opts...); err != nil {
				r.Error(err)
				return err
			}
			r.State(s.Current().Name)
			return nil
		})
	},
}

var execCmd = &cobra.Command{
	Use:   "exec <device> <command>...",
	Short: "Run commands on a device",
	Long: `Runs each argument as one command, in the state given by --state (default: wherever the device is).
With --configure the commands are applied in the configuration mode of the device.
With --expect the command is repeated until its output matches.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, r, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer env.Close()
		flags := cmd.Flags()
		stateName, _ := flags.GetString("state")
		configure, _ := flags.GetBool("configure")
		ignore, _ := flags.GetBool("ignore-errors")
		expect, _ := flags.GetString("expect")
		retries, _ := flags.GetInt("retries")
		interval, _ := flags.GetDuration("interval")
		timeout, _ := flags.GetDuration("timeout")
		lines := strings.Join(args[1:], "\n")

		return cli.WithDevice(cmd.Context(), env, args[0], func(ctx context.Context, s *session.Session) error {
			opts := []session.CallOption{session.Timeout(timeout)}
			var state *domain.State
			if stateName != "" {
				if state, err = lookupState(s, stateName); err != nil {
					return err
				}
				opts = append(opts, session.InState(state))
			}
			if ignore {
				opts = append(opts, session.IgnoreErrors())
			}

			var out string
			switch {
			case expect != "":
				out, err = s.ExecuteAndVerify(ctx, lines, expect, session.VerifyOptions{
					Timeout:    timeout,
					Interval:   interval,
					RetryCount: retries,
					State:      state,
				})
			case configure:
				out, err = s.Configure(ctx, lines, opts...)
			default:
				out, err = s.ExecuteLines(ctx, lines, opts...)
			}
			r.Output(out)
			if err != nil {
				r.Error(err)
			}
			return err
		})
	},
}

var attachCmd = &cobra.Command{
	Use:   "attach <device>",
	Short: "Open an interactive console to a device",
	Long:  `Connects the terminal to the device console. Press Ctrl+] to detach.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, r, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer env.Close()
		stateName, _ := cmd.Flags().GetString("state")

		return cli.WithDevice(cmd.Context(), env, args[0], func(ctx context.Context, s *session.Session) error {
			if stateName != "" {
				target, err := lookupState(s, stateName)
				if err != nil {
					return err
				}
				if err := s.GoTo(ctx, target); err != nil {
					return err
				}
				r.State(s.Current().Name)
			}
			tr, err := s.Transport()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "attached, press Ctrl+] to detach")
			// A blank line redraws the prompt the probe or hop consumed.
			if err := tr.SendLine(""); err != nil {
				return err
			}
			return cli.AttachTerminal(ctx, tr, os.Stdin, cmd.OutOrStdout())
		})
	},
}

func init() {
	gotoCmd.Flags().Bool("direct", false, "Only take a single direct path")
	gotoCmd.Flags().Duration("timeout", 0, "Per-hop timeout (default: the device hop timeout)")

	execCmd.Flags().StringP("state", "s", "", "State to run the commands in")
	execCmd.Flags().Bool("configure", false, "Apply the commands in configuration mode")
	execCmd.Flags().Bool("ignore-errors", false, "Do not fail on rejected commands")
	execCmd.Flags().StringP("expect", "e", "", "Repeat until the output matches this regular expression")
	execCmd.Flags().Int("retries", 5, "Attempts made with --expect")
	execCmd.Flags().Duration("interval", 0, "Pause between attempts made with --expect")
	execCmd.Flags().Duration("timeout", 0, "Per-command timeout (default: the device command timeout)")

	attachCmd.Flags().StringP("state", "s", "", "State to move to before attaching")

	rootCmd.AddCommand(gotoCmd, execCmd, attachCmd)
}

func lookupState(s *session.Session, name string) (*domain.State, error) {
	if name == domain.Any.Name {
		return domain.Any, nil
	}
	return s.Graph().State(name)
}
