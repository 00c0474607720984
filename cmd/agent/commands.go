package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"device-lock-control-plane/internal/agent/state"
)

func newProvisionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "provision <token | qr-payload | ->",
		Short: "Bind this device to its owner with a provisioning token",
		Long: "Accepts the raw provisioning token or the QR payload shown when the device was " +
			"created. Pass - to read it from stdin.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			if input == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				input = string(b)
			}
			a, logger, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer a.Close()

			claims, err := a.Provision(cmd.Context(), input)
			if claims.DeviceID == "" {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "provisioned device %s for owner %s\n", claims.DeviceID, claims.OwnerID)
			if err != nil {
				fmt.Fprintf(out, "enrollment pending, will retry on next sync: %v\n", err)
			}
			return nil
		},
	}
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Enforce the lock state and sync with the control plane until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, logger, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer a.Close()
			return a.Run(ctx)
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted lock state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, logger, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer a.Close()
			return writeStatus(cmd.OutOrStdout(), a.Status(), time.Now())
		},
	}
}

func newUnenrollCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unenroll",
		Short: "Forget this device's enrollment (refused while locked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, logger, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer a.Close()

			snap := a.Status()
			if err := a.Unenroll(cmd.Context()); err != nil {
				if errors.Is(err, state.ErrLocked) {
					left := strings.TrimSpace(humanize.RelTime(time.Now(), snap.LockUntil, "", ""))
					return fmt.Errorf("device is locked for another %s", left)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "device %s unenrolled\n", snap.DeviceID)
			return nil
		},
	}
}

// writeStatus prints snap as aligned key/value lines with times relative to now.
func writeStatus(w io.Writer, snap *state.Snapshot, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "state:\t%s\n", snap.State)
	if !snap.Provisioned() {
		return tw.Flush()
	}
	enrolled := "yes"
	if !snap.Enrolled {
		enrolled = "pending"
	}
	fmt.Fprintf(tw, "device:\t%s\n", snap.DeviceID)
	fmt.Fprintf(tw, "owner:\t%s\n", snap.OwnerID)
	fmt.Fprintf(tw, "enrolled:\t%s\n", enrolled)
	if snap.LockedAt(now) {
		fmt.Fprintf(tw, "locked until:\t%s (%s)\n", snap.LockUntil.Local().Format(time.RFC1123), humanize.RelTime(snap.LockUntil, now, "ago", "from now"))
	}
	if rs := snap.RuleSet; rs != nil {
		fmt.Fprintf(tw, "ruleset:\tv%d, %s blocked domains\n", rs.Version, humanize.Comma(int64(len(rs.BlockedDomains))))
	} else {
		fmt.Fprintf(tw, "ruleset:\tnone\n")
	}
	engaged := "none"
	if len(snap.EngagedBackends) > 0 {
		engaged = strings.Join(snap.EngagedBackends, ", ")
	}
	fmt.Fprintf(tw, "engaged:\t%s\n", engaged)
	if snap.EnforcementError != "" {
		fmt.Fprintf(tw, "enforcement error:\t%s\n", snap.EnforcementError)
	}
	lastSync := "never"
	if !snap.LastSyncedAt.IsZero() {
		lastSync = humanize.RelTime(snap.LastSyncedAt, now, "ago", "from now")
	}
	fmt.Fprintf(tw, "last sync:\t%s\n", lastSync)
	return tw.Flush()
}
