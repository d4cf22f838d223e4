// Package main provides the revsync CLI.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"revsync/internal/artifact"
	"revsync/internal/client"
	"revsync/internal/config"
	"revsync/internal/controller"
	"revsync/internal/state"
	"revsync/internal/util"
)

var rootCmd = &cobra.Command{
	Use:   "revsync",
	Short: "Collaborative reverse engineering sync",
	Long:  `revsync synchronizes function names, comments, stack variables, and struct definitions between analysts through a shared git repository.`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a sync repository for a binary",
	RunE:  runInit,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session status",
	RunE:  runStatus,
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users with a snapshot in the repository",
	RunE:  runUsers,
}

var dumpCmd = &cobra.Command{
	Use:   "dump <user>",
	Short: "Dump a user's snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch the latest remote snapshots",
	RunE:  runPull,
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Publish local snapshot commits",
	RunE:  runPush,
}

var syncCmd = &cobra.Command{
	Use:   "sync <user>",
	Short: "Replace the local snapshot with another user's",
	RunE:  runSync,
	Args:  cobra.ExactArgs(1),
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the background sync loop until interrupted",
	RunE:  runWatch,
}

var (
	configPath string
	userFlag   string
	repoFlag   string
	remoteFlag string
	binaryFlag string
	nameFlag   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "Analyst identity")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Local sync repository path")
	rootCmd.PersistentFlags().StringVar(&remoteFlag, "remote", "", "Remote repository URL")
	initCmd.Flags().StringVar(&binaryFlag, "binary", "", "Path to the binary under analysis")
	initCmd.Flags().StringVar(&nameFlag, "name", "", "Display name of the binary")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig merges the config file, environment, and flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if userFlag != "" {
		cfg.User = userFlag
	}
	if repoFlag != "" {
		cfg.RepoPath = repoFlag
	}
	if remoteFlag != "" {
		cfg.RemoteURL = remoteFlag
	}
	cfg.ConfigureLogging()
	return cfg, nil
}

func connect(cfg config.Config, initRepo bool) (*client.Client, error) {
	binaryHash := ""
	if cfg.BinaryPath != "" {
		h, err := util.Blake3File(cfg.BinaryPath)
		if err != nil {
			return nil, err
		}
		binaryHash = h
	}
	cl, warnings, err := client.Connect(client.Options{
		User:         cfg.User,
		RepoPath:     cfg.RepoPath,
		RemoteURL:    cfg.RemoteURL,
		BinaryHash:   binaryHash,
		BinaryName:   nameFlag,
		Init:         initRepo,
		CacheDir:     cfg.CacheDir,
		PullInterval: cfg.PullInterval,
	})
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w.Message)
	}
	return cl, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if binaryFlag != "" {
		cfg.BinaryPath = binaryFlag
	}
	cl, err := connect(cfg, true)
	if err != nil {
		return err
	}
	defer cl.Close()

	if err := cl.SaveState(); err != nil {
		return err
	}
	fmt.Printf("Initialized sync repository at %s for user %s\n", cfg.RepoPath, cfg.User)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cl, err := connect(cfg, false)
	if err != nil {
		return err
	}
	defer cl.Close()

	st := cl.Status()
	fmt.Printf("User:      %s\n", st.User)
	fmt.Printf("Connected: %t\n", st.Connected)
	fmt.Printf("Remote:    %t\n", st.HasRemote)
	fmt.Printf("Version:   %d\n", st.Version)
	if !st.LastPull.IsZero() {
		fmt.Printf("Last pull: %s\n", st.LastPull.Format(time.RFC3339))
	}
	if !st.LastPush.IsZero() {
		fmt.Printf("Last push: %s\n", st.LastPush.Format(time.RFC3339))
	}
	return nil
}

func runUsers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cl, err := connect(cfg, false)
	if err != nil {
		return err
	}
	defer cl.Close()

	users, err := cl.Users()
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No users found.")
		return nil
	}
	for _, u := range users {
		fmt.Println(u)
	}
	return nil
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cl, err := connect(cfg, false)
	if err != nil {
		return err
	}
	defer cl.Close()

	s, err := cl.GetState(args[0])
	if err != nil {
		return err
	}
	printState(s)
	return nil
}

func printState(s *state.State) {
	fmt.Printf("User:    %s (v%d)\n", s.User, s.Version)
	fmt.Printf("Structs: %d\n", len(s.Structs))
	fmt.Printf("Funcs:   %d\n", len(s.Functions))
	for _, addr := range artifact.SortedFunctionAddrs(s.Functions) {
		f := s.Functions[addr]
		name := f.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %s  %-30s  comments=%d vars=%d\n",
			util.AddrKey(addr), name, len(s.Comments[addr]), len(s.StackVariables[addr]))
	}
}

func runPull(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.PullInterval = time.Nanosecond
	cl, err := connect(cfg, false)
	if err != nil {
		return err
	}
	defer cl.Close()

	if err := cl.Pull(); err != nil {
		return err
	}
	fmt.Println("Pulled.")
	return nil
}

func runPush(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cl, err := connect(cfg, false)
	if err != nil {
		return err
	}
	defer cl.Close()

	if err := cl.Push(); err != nil {
		return err
	}
	fmt.Println("Pushed.")
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cl, err := connect(cfg, false)
	if err != nil {
		return err
	}
	defer cl.Close()

	if err := cl.SyncStates(args[0]); err != nil {
		return err
	}
	if err := cl.Push(); err != nil {
		return err
	}
	fmt.Printf("Synced state from %s\n", args[0])
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cl, err := connect(cfg, false)
	if err != nil {
		return err
	}
	defer cl.Close()

	ctrl := controller.New(cl, controller.NopTool{})
	ctrl.SetHeadless(true)
	ctrl.Start()
	defer ctrl.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	fmt.Println("Watching for remote changes. Ctrl-C to stop.")
	<-sig
	return nil
}
