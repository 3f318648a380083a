package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"pinnit-go/internal/app"
	"pinnit-go/internal/auth"
	"pinnit-go/internal/config"
	"pinnit-go/internal/pinnit"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the defaults.
func loadConfig() (*config.Config, map[string]string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults, nil
}

// newApp reads the config and creates a PinnitApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "AddPin", "Sync").
func newApp(cmd *cobra.Command, operation, parameters string) (*app.PinnitApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	offline, _ := cmd.Flags().GetBool("offline")
	opts := app.Options{
		Operation:  operation,
		Parameters: parameters,
		Offline:    offline,
	}

	needs, err := app.NeedsPassphrase(cfg)
	if err != nil {
		return nil, err
	}
	if needs {
		opts.Passphrase = os.Getenv("PINNIT_PASSPHRASE")
		if opts.Passphrase == "" {
			opts.Passphrase, err = readSecret("Key passphrase: ")
			if err != nil {
				return nil, err
			}
		}
	}

	a, err := app.NewPinnitApp(cmd.Context(), cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readSecret prompts on stderr and reads a line from the terminal without echo.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return string(b), nil
}

// confirm asks a yes/no question on stdin.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func printPins(pins []pinnit.Pin) {
	if len(pins) == 0 {
		fmt.Println("No pins yet.")
		return
	}
	for _, p := range pins {
		fmt.Printf("%-40s  %-24s  %10.5f  %11.5f  %s", p.ID, p.Name, p.Latitude, p.Longitude, p.CreatedAt)
		if p.OwnerLabel != "" {
			fmt.Printf("  (%s)", p.OwnerLabel)
		}
		fmt.Println()
	}
}

func parseCoordinate(s, axis string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", axis, s)
	}
	return v, nil
}

var rootCmd = &cobra.Command{
	Use:          "pinnit",
	Short:        "Save map locations and keep them in sync across devices",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		deviceID := uuid.New().String()
		cfg := config.NewConfig(deviceID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device ID: %s\n", deviceID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Device ID:  %s\n", cfg.DeviceID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Local:      %s\n", cfg.Local.Type)
		fmt.Printf("Remote:     %s\n", cfg.Remote.Type)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		fmt.Printf("Auth:       %s\n", cfg.Auth.Type)
		fmt.Printf("Network:    %s\n", cfg.Network.Type)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the key pair used to encrypt remote pins",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		protect, _ := cmd.Flags().GetBool("passphrase")
		passphrase := ""
		if protect {
			passphrase, err = readSecret("New passphrase: ")
			if err != nil {
				return err
			}
			again, err := readSecret("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if passphrase != again {
				return fmt.Errorf("passphrases do not match")
			}
		}

		if err := app.SetupKeys(cfg, passphrase); err != nil {
			return err
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// pin command
var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Manage pins",
}

var pinAddCmd = &cobra.Command{
	Use:     "add LAT LON",
	Short:   "Drop a pin",
	Example: `  pinnit pin add 51.5072 -0.1276 --name "Trafalgar Square"
  pinnit pin add -- -33.8568 151.2153`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, err := parseCoordinate(args[0], "latitude")
		if err != nil {
			return err
		}
		lon, err := parseCoordinate(args[1], "longitude")
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")

		a, err := newApp(cmd, "AddPin", strings.Join(args, ","))
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.AddPin(cmd.Context(), name, lat, lon)
		if err != nil {
			return fmt.Errorf("adding pin: %w", err)
		}

		fmt.Printf("Pinned %q at %.5f, %.5f (%s)\n", p.Name, p.Latitude, p.Longitude, p.ID)
		return nil
	},
}

var pinListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pins, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListPins", "")
		if err != nil {
			return err
		}
		defer a.Close()

		pins, err := a.ListPins(cmd.Context())
		if err != nil {
			return err
		}
		printPins(pins)
		return nil
	},
}

var pinRenameCmd = &cobra.Command{
	Use:   "rename ID NAME",
	Short: "Rename a pin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "RenamePin", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.RenamePin(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("renaming pin: %w", err)
		}
		fmt.Printf("Renamed %s to %q\n", p.ID, p.Name)
		return nil
	},
}

var pinDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a pin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "DeletePin", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeletePin(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("deleting pin: %w", err)
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push pending changes and refresh from the remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		if watch {
			return runWatch(cmd)
		}

		a, err := newApp(cmd, "Sync", "")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Sync(cmd.Context())
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		if res.Replayed {
			fmt.Println("Pushed pending changes.")
		}
		if res.Pending {
			fmt.Println("Changes are still pending; the remote could not be reached.")
		}
		fmt.Printf("%d pin(s), last synced %s\n", res.Count, res.LastSyncAt.Local().Format("2006-01-02 15:04:05"))
		return nil
	},
}

func runWatch(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cmd, "Watch", "")
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Println("Watching connectivity; press Ctrl-C to stop.")
	return a.Watch(ctx, func(online, synced bool) {
		ts := time.Now().Format("15:04:05")
		switch {
		case synced:
			fmt.Printf("%s  online, pending changes pushed\n", ts)
		case online:
			fmt.Printf("%s  online\n", ts)
		default:
			fmt.Printf("%s  offline\n", ts)
		}
	})
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show account and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Status", "")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}

		if st.Identity == nil {
			fmt.Println("Account:   not signed in (pins stay on this device)")
		} else {
			fmt.Printf("Account:   %s (%s)\n", st.Identity.Username, st.Identity.OwnerLabel())
		}
		fmt.Printf("Remote:    %s\n", st.RemoteType)
		fmt.Printf("Online:    %t\n", st.Online)
		fmt.Printf("Pending:   %t\n", st.Pending)
		if st.HasSynced {
			fmt.Printf("Last sync: %s\n", st.LastSyncAt.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("Last sync: never")
		}
		if st.LocalOnly > 0 {
			fmt.Printf("%d pin(s) on this device are not in your account; run 'pinnit account merge'.\n", st.LocalOnly)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "GetHistory", "")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt.Valid {
				d := op.FinishedAt.Time.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-15s  %s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
			)
		}
		return nil
	},
}

// account command
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Sign in, sign out and merge device pins",
}

var accountLoginCmd = &cobra.Command{
	Use:   "login USERNAME",
	Short: "Sign in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		discard, _ := cmd.Flags().GetBool("discard-unsynced")

		password, err := readSecret("Password: ")
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "SignIn", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		who, err := a.SignIn(cmd.Context(), args[0], password, discard)
		if errors.Is(err, pinnit.ErrCacheOwned) {
			return fmt.Errorf("sign-in failed: %w; sign in to that account to sync them, or pass --discard-unsynced to drop them", err)
		}
		if err != nil {
			return fmt.Errorf("sign-in failed: %w", err)
		}
		fmt.Printf("Signed in as %s\n", who.OwnerLabel())

		n, err := a.LocalOnlyCount(cmd.Context())
		if err == nil && n > 0 {
			fmt.Printf("%d pin(s) on this device are not in your account; run 'pinnit account merge'.\n", n)
		}
		return nil
	},
}

var accountLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out",
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetBool("keep")
		discard, _ := cmd.Flags().GetBool("discard")

		a, err := newApp(cmd, "SignOut", fmt.Sprintf("keep=%t discard=%t", keep, discard))
		if err != nil {
			return err
		}
		defer a.Close()

		discarded, err := a.SignOut(cmd.Context(), keep, discard)
		if errors.Is(err, app.ErrUnsyncedChanges) {
			return fmt.Errorf("sign-out refused: %w; go online and retry, or pass --keep to copy them to this device or --discard to drop them", err)
		}
		if err != nil {
			return fmt.Errorf("sign-out failed: %w", err)
		}
		if discarded && keep {
			fmt.Println("Unsynced changes could not be pushed; they are kept on this device only.")
		} else if discarded {
			fmt.Println("Warning: unsynced changes could not be pushed and were dropped.")
		}
		if keep {
			fmt.Println("Signed out; a copy of your pins stays on this device.")
		} else {
			fmt.Println("Signed out.")
		}
		return nil
	},
}

var accountMergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Move this device's pins into your account",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := newApp(cmd, "MergeLocal", "")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.LocalOnlyCount(cmd.Context())
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Println("No device pins to merge.")
			return nil
		}
		if !yes && !confirm(fmt.Sprintf("Move %d pin(s) into your account and remove them from this device?", n)) {
			fmt.Println("Cancelled.")
			return nil
		}

		merged, err := a.MergeLocal(cmd.Context())
		if err != nil {
			return fmt.Errorf("merge failed: %w", err)
		}
		fmt.Printf("Merged %d pin(s) into your account.\n", merged)
		return nil
	},
}

var accountHashCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Print a bcrypt hash for an [[auth.users]] entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readSecret("Password: ")
		if err != nil {
			return err
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("offline", false, "Do not contact the remote")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)
	configKeysCmd.Flags().Bool("passphrase", false, "Protect the private key with a passphrase")

	// pin subcommands
	pinCmd.AddCommand(pinAddCmd)
	pinAddCmd.Flags().String("name", "", "Pin name (defaults to \""+pinnit.DefaultPinName+"\")")
	pinCmd.AddCommand(pinListCmd)
	pinCmd.AddCommand(pinRenameCmd)
	pinCmd.AddCommand(pinDeleteCmd)

	// account subcommands
	accountCmd.AddCommand(accountLoginCmd)
	accountCmd.AddCommand(accountLogoutCmd)
	accountLogoutCmd.Flags().Bool("keep", false, "Keep a copy of your pins on this device")
	accountLogoutCmd.Flags().Bool("discard", false, "Sign out even if unsynced changes would be lost")
	accountLoginCmd.Flags().Bool("discard-unsynced", false, "Drop unsynced changes left by another account")
	accountCmd.AddCommand(accountMergeCmd)
	accountMergeCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	accountCmd.AddCommand(accountHashCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Bool("watch", false, "Keep running and push pending changes when back online")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(accountCmd)
}
